package log

// Logger receives protocol capture events.
// A nil Logger or NoopLogger disables capture.
type Logger interface {
	// Log records an event. Implementations must be safe for concurrent use
	// and must not block: links log from their read goroutines.
	Log(event Event)
}

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
