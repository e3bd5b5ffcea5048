package interactive

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/orca-control/orca-go/pkg/fleet"
	"github.com/orca-control/orca-go/pkg/session"
	"github.com/orca-control/orca-go/pkg/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer, *simulator.Device) {
	t.Helper()
	dev := simulator.NewDevice("cam_a", nil)
	f, err := fleet.New(context.Background(), fleet.Config{
		Endpoints: []string{"tcp://h:9001"},
		Names:     []string{"cam_a"},
		Timeout:   20 * time.Millisecond,
		Dial: func(name, endpoint string) (session.Link, error) {
			return simulator.NewLink(dev, nil), nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(f.Cleanup)

	var out bytes.Buffer
	return NewWithOutput(f, &out), &out, dev
}

func TestConsoleGet(t *testing.T) {
	c, out, _ := newTestConsole(t)

	assert.True(t, c.Exec(context.Background(), "get cameras/cam_a/camera_name"))
	assert.Equal(t, "cam_a\n", out.String())

	out.Reset()
	c.Exec(context.Background(), "get cameras/cam_a/nope")
	assert.Contains(t, out.String(), "Error [NOT_FOUND]")
}

func TestConsoleSet(t *testing.T) {
	c, out, dev := newTestConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "set cameras/cam_a/config/exposure_time 0.5")
	assert.Equal(t, "OK\n", out.String())
	assert.Equal(t, 0.5, dev.Config()["exposure_time"])

	out.Reset()
	c.Exec(ctx, "set cameras/cam_a/command connect")
	assert.Equal(t, simulator.StateConnected, dev.State())

	out.Reset()
	c.Exec(ctx, "set cameras/cam_a/status/camera_status idle")
	assert.Contains(t, out.String(), "Error [READ_ONLY]")

	out.Reset()
	c.Exec(ctx, "set cameras/cam_a/config")
	assert.Contains(t, out.String(), "Usage")
}

func TestConsoleList(t *testing.T) {
	c, out, _ := newTestConsole(t)

	c.Exec(context.Background(), "ls cameras/cam_a/connection")
	assert.Contains(t, out.String(), "connected")
	assert.Contains(t, out.String(), "write-only")

	out.Reset()
	c.Exec(context.Background(), "ls cameras/cam_a/camera_name")
	assert.Contains(t, out.String(), "constant")
}

func TestConsoleCamerasAndQuit(t *testing.T) {
	c, out, _ := newTestConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "cameras")
	assert.Contains(t, out.String(), "Cameras (1)")
	assert.Contains(t, out.String(), "tcp://h:9001")

	out.Reset()
	c.Exec(ctx, "reconnect cam_a")
	assert.Contains(t, out.String(), "Camera cam_a reconnected")

	out.Reset()
	c.Exec(ctx, "frobnicate")
	assert.Contains(t, out.String(), "Unknown command")

	assert.False(t, c.Exec(ctx, "quit"))
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"10", 10},
		{"0.25", 0.25},
		{"true", true},
		{"connect", "connect"},
		{"{exposure_time: 1}", map[string]any{"exposure_time": 1}},
	}
	for _, tt := range tests {
		v, err := ParseValue(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, v, tt.raw)
	}

	_, err := ParseValue("{")
	assert.Error(t, err)
}
