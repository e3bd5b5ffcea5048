// Package simulator plays the camera side of a control link. It answers
// status, request_configuration and configure the way an ORCA camera
// controller does, and is used by tests and cmd/orca-sim.
package simulator

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/orca-control/orca-go/pkg/wire"
	"github.com/spf13/cast"
)

// Camera states as reported in status.camera_status.
const (
	StateDisconnected = "disconnected"
	StateConnected    = "connected"
	StateCapturing    = "capturing"
)

// Command verbs accepted in configure.params.command.
const (
	VerbConnect    = "connect"
	VerbDisconnect = "disconnect"
	VerbCapture    = "capture"
	VerbEndCapture = "end_capture"
)

// Status keys.
const (
	KeyCameraStatus = "camera_status"
	KeyFrameNumber  = "frame_number"
)

// transitions maps state and verb to the next state.
var transitions = map[string]map[string]string{
	StateDisconnected: {VerbConnect: StateConnected},
	StateConnected:    {VerbDisconnect: StateDisconnected, VerbCapture: StateCapturing},
	StateCapturing:    {VerbEndCapture: StateConnected},
}

// DefaultConfig returns the configuration a freshly started camera reports.
func DefaultConfig() map[string]any {
	return map[string]any{
		"camera_number":  0,
		"image_timeout":  100.0,
		"num_frames":     0,
		"timestamp_mode": 2,
		"exposure_time":  0.0,
		"frame_rate":     0.0,
	}
}

// Device is one simulated camera.
type Device struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	state    string
	frame    int
	config   map[string]any
	silent   bool
	commands []string
}

// NewDevice creates a disconnected camera with the default configuration.
func NewDevice(name string, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Device{
		name:   name,
		logger: logger.With("sim", name),
		state:  StateDisconnected,
		config: DefaultConfig(),
	}
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// State returns the camera state.
func (d *Device) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Config returns a copy of the configuration.
func (d *Device) Config() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.config)
}

// SetConfigKeys replaces the configuration wholesale, changing the key set
// the camera advertises.
func (d *Device) SetConfigKeys(config map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = maps.Clone(config)
}

// SetSilent makes the camera swallow every request.
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

// Commands returns the command names received so far, in order.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// AdvanceFrames adds n captured frames while capturing. When num_frames is
// set and reached the camera returns to connected.
func (d *Device) AdvanceFrames(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateCapturing {
		return
	}
	d.frame += n
	if limit := cast.ToInt(d.config["num_frames"]); limit > 0 && d.frame >= limit {
		d.frame = limit
		d.state = StateConnected
	}
}

// Handle answers one command. A nil result means no reply is sent.
func (d *Device) Handle(cmd *wire.Message) *wire.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.silent || cmd.Type != wire.MsgTypeCmd {
		return nil
	}
	d.commands = append(d.commands, cmd.Command)

	switch cmd.Command {
	case wire.CmdStatus:
		return wire.NewReply(cmd, map[string]any{
			wire.ParamStatus: map[string]any{
				KeyCameraStatus: d.state,
				KeyFrameNumber:  d.frame,
			},
		}, "")
	case wire.CmdRequestConfiguration:
		return wire.NewReply(cmd, map[string]any{
			wire.ParamCamera: maps.Clone(d.config),
		}, "")
	case wire.CmdConfigure:
		return d.configureLocked(cmd)
	default:
		d.logger.Debug("unknown command", "command", cmd.Command)
		return wire.NewReply(cmd, nil, fmt.Sprintf("Unknown command %q", cmd.Command))
	}
}

func (d *Device) configureLocked(cmd *wire.Message) *wire.Message {
	if update, ok := cmd.ParamMap(wire.ParamCamera); ok {
		var unknown []string
		for key := range update {
			if _, known := d.config[key]; !known {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return wire.NewReply(cmd, nil, fmt.Sprintf("Camera configuration update failed: unknown key %s", unknown[0]))
		}
		for key, value := range update {
			d.logger.Info("updating configuration", "key", key, "from", d.config[key], "to", value)
			d.config[key] = value
		}
	}

	if v, ok := cmd.Param(wire.ParamCommand); ok {
		verb, _ := v.(string)
		next, valid := transitions[d.state][verb]
		if !valid {
			return wire.NewReply(cmd, nil, fmt.Sprintf("Camera %s command failed", verb))
		}
		if verb == VerbCapture {
			d.frame = 0
		}
		d.logger.Info("state change", "command", verb, "from", d.state, "to", next)
		d.state = next
	}
	return wire.NewReply(cmd, nil, "")
}
