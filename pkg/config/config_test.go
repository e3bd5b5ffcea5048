package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orca-control/orca-go/pkg/fleet"
	"github.com/orca-control/orca-go/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.PollEnabled)
	assert.Equal(t, time.Second, cfg.PollInterval.Duration())
	assert.Equal(t, List{"camera_1"}, cfg.Names)
	assert.NoError(t, cfg.Validate())
}

func TestParseCommaSeparated(t *testing.T) {
	cfg, err := Parse([]byte(`
camera_endpoint: "tcp://127.0.0.1:9001, tcp://127.0.0.1:9002"
camera_name: "cam_a,cam_b"
status_bg_task_enable: false
status_bg_task_interval: 0.5
timeout: 250ms
codec: cbor
`))
	require.NoError(t, err)

	assert.Equal(t, List{"tcp://127.0.0.1:9001", "tcp://127.0.0.1:9002"}, cfg.Endpoints)
	assert.Equal(t, List{"cam_a", "cam_b"}, cfg.Names)
	assert.False(t, cfg.PollEnabled)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval.Duration())
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout.Duration())
	assert.Equal(t, "cbor", cfg.Codec)
}

func TestParseSequences(t *testing.T) {
	cfg, err := Parse([]byte(`
camera_endpoint:
  - tcp://h:9001
  - " tcp://h:9002 "
camera_name: [cam_a, cam_b]
camera_count: 2
failure_ceiling: 15
`))
	require.NoError(t, err)

	assert.Equal(t, List{"tcp://h:9001", "tcp://h:9002"}, cfg.Endpoints)
	assert.Equal(t, 2, cfg.Count)
	assert.True(t, cfg.PollEnabled, "default kept when the key is absent")

	fc, err := cfg.Fleet()
	require.NoError(t, err)
	assert.Equal(t, []string{"cam_a", "cam_b"}, []string(fc.Names))
	assert.Equal(t, 15, fc.FailureCeiling)
	assert.Equal(t, wire.JSON, fc.Codec)
	assert.NoError(t, fc.Validate())
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "camera_name: [",
		"bad codec":    "codec: xml",
		"bad duration": "timeout: soon",
		"map as list":  "camera_endpoint: {a: b}",
		"negative hwm": "send_hwm: -1",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			var le *LoadError
			assert.True(t, errors.As(err, &le))
		})
	}
}

func TestFleetValidationIsDeferred(t *testing.T) {
	cfg, err := Parse([]byte(`
camera_endpoint: tcp://h:9001
camera_name: cam_a
camera_count: 2
`))
	require.NoError(t, err)

	fc, err := cfg.Fleet()
	require.NoError(t, err)
	assert.ErrorIs(t, fc.Validate(), fleet.ErrConfig)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orca.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera_endpoint: tcp://h:9001\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, List{"tcp://h:9001"}, cfg.Endpoints)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Contains(t, le.File, "missing.yaml")
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("codec: xml\n"), 0o600))
	_, err = Load(bad)
	require.True(t, errors.As(err, &le))
	assert.Equal(t, bad, le.File)
}

func TestFlagValues(t *testing.T) {
	var (
		endpoints List
		interval  Seconds
	)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&endpoints, "endpoints", "")
	fs.Var(&interval, "poll-interval", "")

	require.NoError(t, fs.Parse([]string{"-endpoints", "tcp://h:1, ,tcp://h:2", "-poll-interval", "2"}))
	assert.Equal(t, List{"tcp://h:1", "tcp://h:2"}, endpoints)
	assert.Equal(t, "tcp://h:1,tcp://h:2", endpoints.String())
	assert.Equal(t, 2*time.Second, interval.Duration())
	assert.Equal(t, "2s", interval.String())

	assert.Error(t, fs.Parse([]string{"-poll-interval", "never"}))
}
