package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orca-control/orca-go/pkg/transport"
	"github.com/orca-control/orca-go/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeLink answers commands in-process through a responder function.
type fakeLink struct {
	mu      sync.Mutex
	respond func(cmd *wire.Message) [][]byte
	sent    []*wire.Message
	closed  bool

	frames chan []byte
	peeked []byte
}

func newFakeLink(respond func(cmd *wire.Message) [][]byte) *fakeLink {
	return &fakeLink{respond: respond, frames: make(chan []byte, 16)}
}

func (f *fakeLink) Send(data []byte) error {
	cmd, err := wire.JSON.Decode(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		for _, frame := range respond(cmd) {
			f.frames <- frame
		}
	}
	return nil
}

func (f *fakeLink) Poll(timeout time.Duration) bool {
	if f.peeked != nil {
		return true
	}
	select {
	case frame := <-f.frames:
		f.peeked = frame
		return true
	case <-time.After(timeout):
		return false
	}
}

func (f *fakeLink) Receive() ([]byte, error) {
	if f.peeked == nil {
		return nil, transport.ErrNoFrame
	}
	frame := f.peeked
	f.peeked = nil
	return frame, nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) sentCommands() []*wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*wire.Message(nil), f.sent...)
}

func encode(t *testing.T, m *wire.Message) []byte {
	t.Helper()
	data, err := wire.JSON.Encode(m)
	require.NoError(t, err)
	return data
}

// cameraResponder acts like a healthy camera with the given config/status.
func cameraResponder(t *testing.T, config, status map[string]any) func(*wire.Message) [][]byte {
	return func(cmd *wire.Message) [][]byte {
		var params map[string]any
		switch cmd.Command {
		case wire.CmdStatus:
			params = map[string]any{wire.ParamStatus: status}
		case wire.CmdRequestConfiguration:
			params = map[string]any{wire.ParamCamera: config}
		}
		return [][]byte{encode(t, wire.NewReply(cmd, params, ""))}
	}
}

func newTestSession(t *testing.T, link Link) *Session {
	t.Helper()
	s, err := New(Config{
		Name:     "cam_a",
		Endpoint: "tcp://127.0.0.1:9001",
		Timeout:  100 * time.Millisecond,
		Dial:     func() (Link, error) { return link, nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStatusReplacesSnapshot(t *testing.T) {
	link := newFakeLink(cameraResponder(t, nil, map[string]any{"camera_status": "connected", "frame_number": 3.0}))
	s := newTestSession(t, link)

	got, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{"camera_status": "connected", "frame_number": 3.0}, got)

	v, ok := s.StatusValue("camera_status")
	require.True(t, ok)
	assert.Equal(t, "connected", v)
}

func TestDiscoveryReplacesWholesale(t *testing.T) {
	config := map[string]any{"exposure_time": 0.01, "frame_rate": 10.0}
	link := newFakeLink(cameraResponder(t, config, nil))
	s := newTestSession(t, link)

	_, err := s.RequestConfiguration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"exposure_time", "frame_rate"}, s.Config().Keys())

	link.mu.Lock()
	link.respond = cameraResponder(t, map[string]any{"num_frames": 5.0}, nil)
	link.mu.Unlock()

	got, err := s.RequestConfiguration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{"num_frames": 5.0}, got)
	assert.Equal(t, []string{"num_frames"}, s.Config().Keys(), "stale keys must not survive")
}

func TestRequestIDsIncrease(t *testing.T) {
	link := newFakeLink(cameraResponder(t, map[string]any{}, map[string]any{}))
	s := newTestSession(t, link)

	for i := 0; i < 3; i++ {
		_, err := s.Status(context.Background())
		require.NoError(t, err)
	}

	sent := link.sentCommands()
	require.Len(t, sent, 3)
	for i, cmd := range sent {
		assert.Equal(t, uint64(i+1), cmd.ID)
		assert.Equal(t, wire.MsgTypeCmd, cmd.Type)
	}
}

func TestStaleReplyDiscarded(t *testing.T) {
	link := newFakeLink(func(cmd *wire.Message) [][]byte {
		stale := &wire.Message{ID: cmd.ID + 100, Command: cmd.Command}
		return [][]byte{
			encode(t, wire.NewReply(stale, map[string]any{wire.ParamStatus: map[string]any{"camera_status": "stale"}}, "")),
			encode(t, wire.NewReply(cmd, map[string]any{wire.ParamStatus: map[string]any{"camera_status": "fresh"}}, "")),
		}
	})
	s := newTestSession(t, link)

	got, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", got["camera_status"])
}

func TestOnlyStaleReplyTimesOut(t *testing.T) {
	link := newFakeLink(func(cmd *wire.Message) [][]byte {
		stale := &wire.Message{ID: cmd.ID - 1, Command: cmd.Command}
		return [][]byte{encode(t, wire.NewReply(stale, nil, ""))}
	})
	s := newTestSession(t, link)

	_, err := s.Status(context.Background())
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "cam_a", te.Device)
	assert.Equal(t, wire.CmdStatus, te.Command)
	assert.Equal(t, 1, s.Failures())
}

func TestFailureCounter(t *testing.T) {
	var mu sync.Mutex
	answer := false
	link := newFakeLink(func(cmd *wire.Message) [][]byte {
		mu.Lock()
		defer mu.Unlock()
		if !answer {
			return nil
		}
		return [][]byte{encode(t, wire.NewReply(cmd, map[string]any{wire.ParamStatus: map[string]any{}}, ""))}
	})
	s := newTestSession(t, link)

	var seen []int
	s.Observe(func(failures int) { seen = append(seen, failures) })

	for i := 0; i < 3; i++ {
		_, err := s.Status(context.Background())
		require.ErrorIs(t, err, ErrTimeout)
	}
	assert.Equal(t, 3, s.Failures())

	mu.Lock()
	answer = true
	mu.Unlock()

	_, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Failures())
	assert.Equal(t, []int{1, 2, 3, 0}, seen)
}

func TestNackCountsAsAnswer(t *testing.T) {
	link := newFakeLink(func(cmd *wire.Message) [][]byte {
		return [][]byte{encode(t, wire.NewReply(cmd, nil, "Invalid command: fly"))}
	})
	s := newTestSession(t, link)

	err := s.Command(context.Background(), "fly")
	var nack *NackError
	require.ErrorAs(t, err, &nack)
	assert.Equal(t, "Invalid command: fly", nack.Reason)
	assert.ErrorIs(t, err, ErrNack)
	assert.Equal(t, 0, s.Failures())
}

func TestMalformedReplyLeavesCache(t *testing.T) {
	calls := 0
	link := newFakeLink(func(cmd *wire.Message) [][]byte {
		calls++
		if calls == 1 {
			return [][]byte{encode(t, wire.NewReply(cmd, map[string]any{wire.ParamCamera: map[string]any{"frame_rate": 10.0}}, ""))}
		}
		if calls == 2 {
			return [][]byte{[]byte("{not json")}
		}
		return [][]byte{encode(t, wire.NewReply(cmd, map[string]any{"unexpected": 1}, ""))}
	})
	s := newTestSession(t, link)

	_, err := s.RequestConfiguration(context.Background())
	require.NoError(t, err)

	_, err = s.RequestConfiguration(context.Background())
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = s.RequestConfiguration(context.Background())
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "no camera mapping")

	assert.Equal(t, Snapshot{"frame_rate": 10.0}, s.Config())
}

func TestConfigureEchoesBeforeReply(t *testing.T) {
	link := newFakeLink(nil)
	s := newTestSession(t, link)

	err := s.Configure(context.Background(), "exposure_time", 10)
	require.ErrorIs(t, err, ErrTimeout)

	v, ok := s.ConfigValue("exposure_time")
	require.True(t, ok, "echo survives a failed request")
	assert.Equal(t, 10, v)

	sent := link.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, wire.CmdConfigure, sent[0].Command)
	camera, ok := sent[0].ParamMap(wire.ParamCamera)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"exposure_time": float64(10)}, camera)
}

func TestDiscoveryOverridesEcho(t *testing.T) {
	link := newFakeLink(cameraResponder(t, map[string]any{"exposure_time": 0.5}, nil))
	s := newTestSession(t, link)

	require.NoError(t, s.Configure(context.Background(), "exposure_time", 10.0))
	v, _ := s.ConfigValue("exposure_time")
	assert.Equal(t, 10.0, v)

	_, err := s.RequestConfiguration(context.Background())
	require.NoError(t, err)
	v, _ = s.ConfigValue("exposure_time")
	assert.Equal(t, 0.5, v)
}

func TestConfigureAllDoesNotEcho(t *testing.T) {
	link := newFakeLink(cameraResponder(t, nil, nil))
	s := newTestSession(t, link)

	require.NoError(t, s.ConfigureAll(context.Background(), map[string]any{"num_frames": 3, "frame_rate": 5}))
	assert.Empty(t, s.Config())
}

// stubLink is a mock.Mock link for timing assertions.
type stubLink struct {
	mock.Mock
}

func (m *stubLink) Send(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *stubLink) Poll(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}

func (m *stubLink) Receive() ([]byte, error) {
	args := m.Called()
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *stubLink) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestConnectUsesElevatedTimeout(t *testing.T) {
	link := &stubLink{}
	link.On("Send", mock.Anything).Return(nil)
	link.On("Poll", mock.MatchedBy(func(d time.Duration) bool { return d > time.Second })).Return(false).Once()
	link.On("Poll", mock.MatchedBy(func(d time.Duration) bool { return d <= time.Second })).Return(false).Twice()
	link.On("Close").Return(nil).Once()

	s, err := New(Config{Name: "cam_a", Dial: func() (Link, error) { return link, nil }})
	require.NoError(t, err)

	err = s.Command(context.Background(), "connect")
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, DefaultConnectTimeout, te.Timeout)
	assert.Equal(t, 2, s.Failures(), "command and status refresh both timed out")

	// The status refresh after the command is back on the default timeout.
	_, err = s.Status(context.Background())
	require.ErrorAs(t, err, &te)
	assert.Equal(t, DefaultTimeout, te.Timeout)

	require.NoError(t, s.Close())
	link.AssertExpectations(t)
}

func TestOrdinaryCommandUsesDefaultTimeout(t *testing.T) {
	link := &stubLink{}
	link.On("Send", mock.Anything).Return(nil)
	link.On("Poll", mock.MatchedBy(func(d time.Duration) bool { return d <= time.Second })).Return(false).Twice()
	link.On("Close").Return(nil)

	s, err := New(Config{Name: "cam_a", Dial: func() (Link, error) { return link, nil }})
	require.NoError(t, err)

	err = s.Command(context.Background(), "capture")
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, DefaultTimeout, te.Timeout)
	assert.Equal(t, 2, s.Failures(), "an unreachable camera costs the command and its refresh")

	require.NoError(t, s.Close())
	link.AssertExpectations(t)
}

func TestSendErrorIsNotATimeout(t *testing.T) {
	link := &stubLink{}
	link.On("Send", mock.Anything).Return(transport.ErrLinkClosed)
	link.On("Close").Return(nil)

	s := newTestSession(t, link)
	_, err := s.Status(context.Background())
	assert.ErrorIs(t, err, transport.ErrLinkClosed)
	assert.Equal(t, 0, s.Failures())
}

func TestRelinkResetsState(t *testing.T) {
	first := newFakeLink(cameraResponder(t, map[string]any{"frame_rate": 10.0}, map[string]any{"camera_status": "connected"}))
	second := newFakeLink(cameraResponder(t, map[string]any{"num_frames": 1.0}, nil))
	links := []*fakeLink{first, second}
	dials := 0

	s, err := New(Config{
		Name:    "cam_a",
		Timeout: 100 * time.Millisecond,
		Dial: func() (Link, error) {
			l := links[dials]
			dials++
			return l, nil
		},
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RequestConfiguration(context.Background())
	require.NoError(t, err)
	_, err = s.Status(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Relink())
	assert.True(t, first.closed)
	assert.Equal(t, 2, dials)
	assert.Empty(t, s.Config())
	assert.Empty(t, s.StatusSnapshot())

	got, err := s.RequestConfiguration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{"num_frames": 1.0}, got)
	assert.Equal(t, uint64(3), second.sentCommands()[0].ID, "ids keep increasing across links")
}

func TestCloseIdempotent(t *testing.T) {
	link := newFakeLink(nil)
	s := newTestSession(t, link)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, link.closed)

	_, err := s.Status(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Relink(), ErrClosed)
}

func TestCanceledContext(t *testing.T) {
	s := newTestSession(t, newFakeLink(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Status(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, s.Failures())
}

func TestQuietContext(t *testing.T) {
	assert.False(t, IsQuiet(context.Background()))
	assert.True(t, IsQuiet(WithQuiet(context.Background())))
}

func TestInvalidEndpointFailsNew(t *testing.T) {
	_, err := New(Config{Name: "cam_a", Endpoint: "bogus"})
	assert.ErrorIs(t, err, transport.ErrInvalidEndpoint)
}
