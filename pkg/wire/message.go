package wire

import (
	"errors"
	"fmt"
	"time"
)

// MsgType is the message type tag (msg_type).
type MsgType string

const (
	// MsgTypeCmd is a command sent to a camera.
	MsgTypeCmd MsgType = "cmd"

	// MsgTypeAck is a positive reply.
	MsgTypeAck MsgType = "ack"

	// MsgTypeNack is a negative reply; params.error carries the reason.
	MsgTypeNack MsgType = "nack"

	// MsgTypeNotify is an unsolicited notification. The bridge ignores these.
	MsgTypeNotify MsgType = "notify"
)

// IsValid returns true for known type tags.
func (t MsgType) IsValid() bool {
	switch t {
	case MsgTypeCmd, MsgTypeAck, MsgTypeNack, MsgTypeNotify:
		return true
	}
	return false
}

// Conventional command names (msg_val).
const (
	CmdStatus               = "status"
	CmdRequestConfiguration = "request_configuration"
	CmdConfigure            = "configure"
)

// Well-known parameter keys.
const (
	ParamStatus  = "status"
	ParamCamera  = "camera"
	ParamCommand = "command"
	ParamError   = "error"
)

// TimestampFormat is the layout used for the timestamp field.
const TimestampFormat = "2006-01-02T15:04:05.000000"

// Message validation errors.
var (
	ErrMissingType    = errors.New("missing msg_type")
	ErrUnknownType    = errors.New("unknown msg_type")
	ErrMissingCommand = errors.New("missing msg_val")
)

// Message is a correlated command or reply.
type Message struct {
	Type      MsgType        `json:"msg_type" cbor:"msg_type"`
	Command   string         `json:"msg_val" cbor:"msg_val"`
	ID        uint64         `json:"id" cbor:"id"`
	Timestamp string         `json:"timestamp,omitempty" cbor:"timestamp,omitempty"`
	Params    map[string]any `json:"params" cbor:"params"`
}

// NewCommand builds a cmd message stamped with the current time.
// A nil params map is sent as an empty object.
func NewCommand(command string, id uint64, params map[string]any) *Message {
	if params == nil {
		params = map[string]any{}
	}
	return &Message{
		Type:      MsgTypeCmd,
		Command:   command,
		ID:        id,
		Timestamp: time.Now().Format(TimestampFormat),
		Params:    params,
	}
}

// NewReply builds an ack (or nack, when reason is non-empty) for cmd.
func NewReply(cmd *Message, params map[string]any, reason string) *Message {
	if params == nil {
		params = map[string]any{}
	}
	t := MsgTypeAck
	if reason != "" {
		t = MsgTypeNack
		params[ParamError] = reason
	}
	return &Message{
		Type:      t,
		Command:   cmd.Command,
		ID:        cmd.ID,
		Timestamp: time.Now().Format(TimestampFormat),
		Params:    params,
	}
}

// Validate checks the fields every message must carry.
func (m *Message) Validate() error {
	if m.Type == "" {
		return ErrMissingType
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if m.Command == "" {
		return ErrMissingCommand
	}
	return nil
}

// IsReply returns true for ack and nack messages.
func (m *Message) IsReply() bool {
	return m.Type == MsgTypeAck || m.Type == MsgTypeNack
}

// IsNack returns true for a negative reply.
func (m *Message) IsNack() bool {
	return m.Type == MsgTypeNack
}

// ErrorText returns params.error, or "" when absent.
func (m *Message) ErrorText() string {
	s, _ := m.Params[ParamError].(string)
	return s
}

// Param returns a top-level parameter.
func (m *Message) Param(key string) (any, bool) {
	if m.Params == nil {
		return nil, false
	}
	v, ok := m.Params[key]
	return v, ok
}

// ParamMap returns a top-level parameter that holds a mapping.
// The second result is false when the key is absent or not a mapping.
func (m *Message) ParamMap(key string) (map[string]any, bool) {
	v, ok := m.Param(key)
	if !ok {
		return nil, false
	}
	return AsMap(v)
}

// AsMap converts a decoded mapping to map[string]any. CBOR peers may send
// maps with non-string keys; those are formatted with %v.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			if s, ok := k.(string); ok {
				out[s] = val
			} else {
				out[fmt.Sprint(k)] = val
			}
		}
		return out, true
	default:
		return nil, false
	}
}
