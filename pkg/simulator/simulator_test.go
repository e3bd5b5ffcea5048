package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orca-control/orca-go/pkg/connection"
	"github.com/orca-control/orca-go/pkg/session"
	"github.com/orca-control/orca-go/pkg/transport"
	"github.com/orca-control/orca-go/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configure(d *Device, id uint64, params map[string]any) *wire.Message {
	return d.Handle(wire.NewCommand(wire.CmdConfigure, id, params))
}

func TestDeviceStateMachine(t *testing.T) {
	d := NewDevice("cam_a", nil)
	assert.Equal(t, StateDisconnected, d.State())

	steps := []struct {
		verb string
		want string
		nack bool
	}{
		{VerbCapture, StateDisconnected, true},
		{VerbConnect, StateConnected, false},
		{VerbConnect, StateConnected, true},
		{VerbCapture, StateCapturing, false},
		{VerbDisconnect, StateCapturing, true},
		{VerbEndCapture, StateConnected, false},
		{VerbDisconnect, StateDisconnected, false},
		{"explode", StateDisconnected, true},
	}
	for i, step := range steps {
		reply := configure(d, uint64(i+1), map[string]any{wire.ParamCommand: step.verb})
		require.NotNil(t, reply)
		assert.Equal(t, uint64(i+1), reply.ID)
		assert.Equal(t, step.nack, reply.IsNack(), "verb %s", step.verb)
		assert.Equal(t, step.want, d.State(), "after %s", step.verb)
	}
}

func TestDeviceNackText(t *testing.T) {
	d := NewDevice("cam_a", nil)
	reply := configure(d, 1, map[string]any{wire.ParamCommand: VerbCapture})
	assert.Equal(t, "Camera capture command failed", reply.ErrorText())
}

func TestDeviceStatusAndConfiguration(t *testing.T) {
	d := NewDevice("cam_a", nil)

	status := d.Handle(wire.NewCommand(wire.CmdStatus, 1, nil))
	m, ok := status.ParamMap(wire.ParamStatus)
	require.True(t, ok)
	assert.Equal(t, StateDisconnected, m[KeyCameraStatus])
	assert.Equal(t, 0, m[KeyFrameNumber])

	cfg := d.Handle(wire.NewCommand(wire.CmdRequestConfiguration, 2, nil))
	m, ok = cfg.ParamMap(wire.ParamCamera)
	require.True(t, ok)
	assert.Len(t, m, 6)
	assert.Equal(t, 100.0, m["image_timeout"])
}

func TestDeviceConfigureKeys(t *testing.T) {
	d := NewDevice("cam_a", nil)

	reply := configure(d, 1, map[string]any{wire.ParamCamera: map[string]any{"exposure_time": 0.01}})
	assert.False(t, reply.IsNack())
	assert.Equal(t, 0.01, d.Config()["exposure_time"])

	reply = configure(d, 2, map[string]any{wire.ParamCamera: map[string]any{"exposure_time": 0.5, "gain": 3}})
	assert.True(t, reply.IsNack())
	assert.Contains(t, reply.ErrorText(), "unknown key gain")
	assert.Equal(t, 0.01, d.Config()["exposure_time"], "rejected update leaves config untouched")
}

func TestDeviceSilent(t *testing.T) {
	d := NewDevice("cam_a", nil)
	d.SetSilent(true)
	assert.Nil(t, d.Handle(wire.NewCommand(wire.CmdStatus, 1, nil)))
	assert.Empty(t, d.Commands())

	d.SetSilent(false)
	assert.NotNil(t, d.Handle(wire.NewCommand(wire.CmdStatus, 2, nil)))
	assert.Equal(t, []string{wire.CmdStatus}, d.Commands())
}

func TestDeviceIgnoresReplies(t *testing.T) {
	d := NewDevice("cam_a", nil)
	cmd := wire.NewCommand(wire.CmdStatus, 1, nil)
	assert.Nil(t, d.Handle(wire.NewReply(cmd, nil, "")))
}

func TestDeviceUnknownCommand(t *testing.T) {
	d := NewDevice("cam_a", nil)
	reply := d.Handle(wire.NewCommand("reboot", 1, nil))
	require.NotNil(t, reply)
	assert.True(t, reply.IsNack())
}

func TestAdvanceFrames(t *testing.T) {
	d := NewDevice("cam_a", nil)
	d.AdvanceFrames(5)
	assert.Equal(t, StateDisconnected, d.State(), "no frames while idle")

	configure(d, 1, map[string]any{wire.ParamCamera: map[string]any{"num_frames": 10}})
	configure(d, 2, map[string]any{wire.ParamCommand: VerbConnect})
	configure(d, 3, map[string]any{wire.ParamCommand: VerbCapture})

	d.AdvanceFrames(4)
	assert.Equal(t, StateCapturing, d.State())
	d.AdvanceFrames(20)
	assert.Equal(t, StateConnected, d.State())

	m, _ := d.Handle(wire.NewCommand(wire.CmdStatus, 4, nil)).ParamMap(wire.ParamStatus)
	assert.Equal(t, 10, m[KeyFrameNumber])

	configure(d, 5, map[string]any{wire.ParamCommand: VerbCapture})
	m, _ = d.Handle(wire.NewCommand(wire.CmdStatus, 6, nil)).ParamMap(wire.ParamStatus)
	assert.Equal(t, 0, m[KeyFrameNumber], "capture restarts the frame count")
}

func TestSetConfigKeys(t *testing.T) {
	d := NewDevice("cam_a", nil)
	d.SetConfigKeys(map[string]any{"gain": 1})

	m, _ := d.Handle(wire.NewCommand(wire.CmdRequestConfiguration, 1, nil)).ParamMap(wire.ParamCamera)
	assert.Equal(t, map[string]any{"gain": 1}, m)
}

func startServer(t *testing.T, codec wire.Codec) *Server {
	t.Helper()
	srv, err := NewServer(NewDevice("cam_a", nil), ServerConfig{Codec: codec})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dialSession(t *testing.T, srv *Server, codec wire.Codec) *session.Session {
	t.Helper()
	s, err := session.New(session.Config{
		Name:     "cam_a",
		Endpoint: srv.Endpoint(),
		Codec:    codec,
		Timeout:  2 * time.Second,
		Link: transport.LinkConfig{
			Dialer: connection.DialerConfig{
				Backoff: connection.BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
			},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerWithSession(t *testing.T) {
	for _, codec := range []wire.Codec{wire.JSON, wire.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			srv := startServer(t, codec)
			s := dialSession(t, srv, codec)
			ctx := context.Background()

			cfg, err := s.RequestConfiguration(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"camera_number", "exposure_time", "frame_rate", "image_timeout", "num_frames", "timestamp_mode"}, cfg.Keys())

			require.NoError(t, s.Command(ctx, VerbConnect))
			v, ok := s.StatusValue(KeyCameraStatus)
			require.True(t, ok)
			assert.Equal(t, StateConnected, v)

			require.NoError(t, s.Configure(ctx, "exposure_time", 0.02))
			assert.Equal(t, 0.02, srv.Device().Config()["exposure_time"])

			err = s.Command(ctx, VerbEndCapture)
			var nack *session.NackError
			require.True(t, errors.As(err, &nack))
			assert.Equal(t, "Camera end_capture command failed", nack.Reason)
		})
	}
}

func TestServerDelayedReplyIsDiscarded(t *testing.T) {
	srv := startServer(t, wire.JSON)
	s := dialSession(t, srv, wire.JSON)
	ctx := context.Background()

	_, err := s.Status(ctx)
	require.NoError(t, err)

	srv.SetReplyDelay(300 * time.Millisecond)
	_, err = s.Request(ctx, wire.CmdStatus, nil, 50*time.Millisecond)
	require.ErrorIs(t, err, session.ErrTimeout)
	assert.Equal(t, 1, s.Failures())

	srv.SetReplyDelay(0)
	reply, err := s.Request(ctx, wire.CmdRequestConfiguration, nil, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.CmdRequestConfiguration, reply.Command)
	assert.Equal(t, 0, s.Failures())
}

func TestNewServerInvalidEndpoint(t *testing.T) {
	_, err := NewServer(NewDevice("cam_a", nil), ServerConfig{Endpoint: "udp://x:1"})
	assert.ErrorIs(t, err, transport.ErrInvalidEndpoint)
}

func TestLinkRoundTrip(t *testing.T) {
	l := NewLink(NewDevice("cam_a", nil), wire.CBOR)

	data, err := wire.CBOR.Encode(wire.NewCommand(wire.CmdStatus, 7, nil))
	require.NoError(t, err)
	require.NoError(t, l.Send(data))

	require.True(t, l.Poll(time.Second))
	require.True(t, l.Poll(time.Second), "poll keeps the frame until received")
	frame, err := l.Receive()
	require.NoError(t, err)

	reply, err := wire.CBOR.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), reply.ID)

	_, err = l.Receive()
	assert.ErrorIs(t, err, transport.ErrNoFrame)
	assert.False(t, l.Poll(10*time.Millisecond))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Send(data), transport.ErrLinkClosed)
}

func TestLinkSilentDevice(t *testing.T) {
	dev := NewDevice("cam_a", nil)
	dev.SetSilent(true)
	l := NewLink(dev, nil)

	data, err := wire.JSON.Encode(wire.NewCommand(wire.CmdStatus, 1, nil))
	require.NoError(t, err)
	require.NoError(t, l.Send(data))
	assert.False(t, l.Poll(10*time.Millisecond))
}
