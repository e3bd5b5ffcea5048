package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/orca-control/orca-go/pkg/log"
	"github.com/orca-control/orca-go/pkg/wire"
)

type quietKey struct{}

// WithQuiet marks ctx so that routine exchange logs drop to Debug.
// The poller uses it for its periodic refresh.
func WithQuiet(ctx context.Context) context.Context {
	return context.WithValue(ctx, quietKey{}, true)
}

// IsQuiet reports whether ctx was marked by WithQuiet.
func IsQuiet(ctx context.Context) bool {
	q, _ := ctx.Value(quietKey{}).(bool)
	return q
}

func levelFor(ctx context.Context) slog.Level {
	if IsQuiet(ctx) {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func (s *Session) captureMessage(m *wire.Message, dir log.Direction, rtt *time.Duration) {
	if s.capture == nil {
		return
	}
	s.capture.Log(log.Event{
		Timestamp: time.Now(),
		LinkID:    s.linkID,
		Direction: dir,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Device:    s.name,
		Endpoint:  s.endpoint,
		Message: &log.MessageEvent{
			Type:      string(m.Type),
			Command:   m.Command,
			ID:        m.ID,
			Params:    m.Params,
			RoundTrip: rtt,
		},
	})
}

func (s *Session) captureError(command string, err error) {
	if s.capture == nil {
		return
	}
	s.capture.Log(log.Event{
		Timestamp: time.Now(),
		LinkID:    s.linkID,
		Layer:     log.LayerSession,
		Category:  log.CategoryError,
		Device:    s.name,
		Endpoint:  s.endpoint,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: err.Error(),
			Context: command,
		},
	})
}

func (s *Session) captureState(state string) {
	if s.capture == nil {
		return
	}
	s.capture.Log(log.Event{
		Timestamp: time.Now(),
		LinkID:    s.linkID,
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		Device:    s.name,
		Endpoint:  s.endpoint,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			NewState: state,
		},
	})
}
