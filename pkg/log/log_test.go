package log

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func sampleEvents() []Event {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	rtt := 3 * time.Millisecond
	return []Event{
		{
			Timestamp: ts,
			LinkID:    "link-a",
			Direction: DirectionOut,
			Layer:     LayerWire,
			Category:  CategoryMessage,
			Device:    "cam_a",
			Endpoint:  "tcp://127.0.0.1:9001",
			Message: &MessageEvent{
				Type:    "cmd",
				Command: "configure",
				ID:      7,
				Params:  map[string]any{"camera": map[string]any{"exposure_time": 0.5}},
			},
		},
		{
			Timestamp: ts.Add(time.Millisecond),
			LinkID:    "link-a",
			Direction: DirectionIn,
			Layer:     LayerWire,
			Category:  CategoryMessage,
			Device:    "cam_a",
			Message:   &MessageEvent{Type: "ack", Command: "configure", ID: 7, RoundTrip: &rtt},
		},
		{
			Timestamp:   ts.Add(2 * time.Millisecond),
			LinkID:      "link-b",
			Layer:       LayerSession,
			Category:    CategoryState,
			Device:      "cam_b",
			StateChange: &StateChangeEvent{Entity: StateEntityPoller, OldState: "RUNNING", NewState: "HALTED", Reason: "failure ceiling"},
		},
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.olog")

	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range sampleEvents() {
		fl.Log(e)
	}
	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close(), "close is idempotent")

	// Logging after close is ignored.
	fl.Log(sampleEvents()[0])

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	var got []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, e)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "configure", got[0].Message.Command)
	assert.Equal(t, uint64(7), got[0].Message.ID)
	camera, ok := got[0].Message.Params["camera"].(map[string]any)
	require.True(t, ok, "nested params decode as string-keyed maps")
	assert.Equal(t, 0.5, camera["exposure_time"])
	assert.True(t, got[0].Timestamp.Equal(sampleEvents()[0].Timestamp))
	require.NotNil(t, got[1].Message.RoundTrip)
	assert.Equal(t, 3*time.Millisecond, *got[1].Message.RoundTrip)
	assert.Equal(t, "HALTED", got[2].StateChange.NewState)
}

func TestFilteredReader(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, e := range sampleEvents() {
		require.NoError(t, enc.Encode(e))
	}

	in := DirectionIn
	r := NewStreamReader(bytes.NewReader(buf.Bytes()), Filter{LinkID: "link-a", Direction: &in})

	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "ack", e.Message.Type)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFilterMatches(t *testing.T) {
	events := sampleEvents()
	state := CategoryState
	start := events[1].Timestamp

	f := Filter{Category: &state}
	assert.False(t, f.Matches(events[0]))
	assert.True(t, f.Matches(events[2]))

	f = Filter{TimeStart: &start}
	assert.False(t, f.Matches(events[0]))
	assert.True(t, f.Matches(events[1]))

	f = Filter{Device: "cam_b"}
	assert.True(t, f.Matches(events[2]))
	assert.False(t, f.Matches(events[1]))
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(sampleEvents()[0])

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a := NewSlogAdapter(logger)
	for _, e := range sampleEvents() {
		a.Log(e)
	}

	out := buf.String()
	assert.Contains(t, out, "command=configure")
	assert.Contains(t, out, "device=cam_a")
	assert.Contains(t, out, "new_state=HALTED")
	assert.Contains(t, out, "round_trip=3ms")
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "OUT", DirectionOut.String())
	assert.Equal(t, "SESSION", LayerSession.String())
	assert.Equal(t, "ERROR", CategoryError.String())
	assert.Equal(t, "POLLER", StateEntityPoller.String())
	assert.Equal(t, "UNKNOWN", Layer(9).String())
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Log(sampleEvents()[0])
}
