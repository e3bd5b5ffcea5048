// Package config loads the orca-control startup configuration from YAML.
//
// Example:
//
//	camera_endpoint: "tcp://127.0.0.1:9001, tcp://127.0.0.1:9002"
//	camera_name: [cam_a, cam_b]
//	status_bg_task_enable: true
//	status_bg_task_interval: 1
//	timeout: 500ms
//
// Endpoint and name lists accept either a YAML sequence or one
// comma-separated string. Durations accept a number of seconds or a Go
// duration string.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/orca-control/orca-go/pkg/fleet"
	"github.com/orca-control/orca-go/pkg/transport"
	"github.com/orca-control/orca-go/pkg/wire"
	"gopkg.in/yaml.v3"
)

// Config is the startup configuration.
type Config struct {
	Endpoints List `yaml:"camera_endpoint"`
	Names     List `yaml:"camera_name"`

	// Count is the number of cameras to manage (0: one per endpoint).
	Count int `yaml:"camera_count"`

	PollEnabled    bool    `yaml:"status_bg_task_enable"`
	PollInterval   Seconds `yaml:"status_bg_task_interval"`
	FailureCeiling int     `yaml:"failure_ceiling"`

	Timeout        Seconds `yaml:"timeout"`
	ConnectTimeout Seconds `yaml:"connect_timeout"`

	// Codec is "json" or "cbor".
	Codec string `yaml:"codec"`

	// SendHWM bounds the frames queued per link while it is down.
	SendHWM int `yaml:"send_hwm"`
}

// Default returns the built-in configuration. Loaded files override it
// field by field.
func Default() Config {
	return Config{
		Names:        List{"camera_1"},
		PollEnabled:  true,
		PollInterval: Seconds(time.Second),
		Codec:        wire.CodecJSON,
	}
}

// LoadError reports a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields that do not need a fleet to interpret.
// Endpoint and name lists are checked by fleet.Config.Validate.
func (c Config) Validate() error {
	if _, err := wire.CodecByName(c.Codec); err != nil {
		return err
	}
	if c.Timeout < 0 || c.ConnectTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.SendHWM < 0 {
		return fmt.Errorf("send_hwm must not be negative")
	}
	return nil
}

// Fleet converts the configuration into fleet options. Logging and dialling
// options are left for the caller.
func (c Config) Fleet() (fleet.Config, error) {
	codec, err := wire.CodecByName(c.Codec)
	if err != nil {
		return fleet.Config{}, err
	}
	return fleet.Config{
		Endpoints:      c.Endpoints,
		Names:          c.Names,
		Count:          c.Count,
		PollEnabled:    c.PollEnabled,
		PollInterval:   c.PollInterval.Duration(),
		FailureCeiling: c.FailureCeiling,
		Codec:          codec,
		Timeout:        c.Timeout.Duration(),
		ConnectTimeout: c.ConnectTimeout.Duration(),
		Link:           transport.LinkConfig{SendHWM: c.SendHWM},
	}, nil
}

// List is a string list that also decodes from a comma-separated scalar.
type List []string

// ParseList splits a comma-separated string, trimming blanks around each
// item and dropping empty items.
func ParseList(s string) List {
	var out List
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *List) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = ParseList(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = nil
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				*l = append(*l, item)
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: expected a list or a comma-separated string", node.Line)
	}
}

// String joins the list with commas.
func (l List) String() string { return strings.Join(l, ",") }

// Set implements flag.Value.
func (l *List) Set(s string) error {
	*l = ParseList(s)
	return nil
}

// Seconds is a duration written as a number of seconds or a duration
// string ("250ms").
type Seconds time.Duration

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// ParseSeconds parses a number of seconds or a Go duration string.
func ParseSeconds(v string) (Seconds, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return Seconds(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return Seconds(d), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Seconds) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a duration", node.Line)
	}
	v, err := ParseSeconds(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = v
	return nil
}

// String formats s as a Go duration.
func (s Seconds) String() string { return time.Duration(s).String() }

// Set implements flag.Value.
func (s *Seconds) Set(v string) error {
	d, err := ParseSeconds(v)
	if err != nil {
		return err
	}
	*s = d
	return nil
}
