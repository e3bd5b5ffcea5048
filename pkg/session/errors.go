package session

import (
	"errors"
	"fmt"
	"time"
)

// Session errors.
var (
	// ErrTimeout indicates no matching reply arrived within the timeout.
	ErrTimeout = errors.New("device timeout")

	// ErrProtocol indicates a malformed or unexpected reply.
	ErrProtocol = errors.New("device protocol error")

	// ErrNack indicates the camera rejected the command.
	ErrNack = errors.New("device rejected command")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// TimeoutError reports a request that went unanswered.
type TimeoutError struct {
	Device  string
	Command string
	ID      uint64
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no reply to %s (id %d) within %s", e.Device, e.Command, e.ID, e.Timeout)
}

// Unwrap returns ErrTimeout.
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ProtocolError reports a reply that could not be used.
type ProtocolError struct {
	Device  string
	Command string
	Reason  string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: bad reply to %s: %s: %v", e.Device, e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: bad reply to %s: %s", e.Device, e.Command, e.Reason)
}

// Is matches ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Unwrap returns the underlying decode error, if any.
func (e *ProtocolError) Unwrap() error { return e.Err }

// NackError reports a negative reply.
type NackError struct {
	Device  string
	Command string
	ID      uint64
	Reason  string
}

func (e *NackError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("%s: %s (id %d) rejected: %s", e.Device, e.Command, e.ID, reason)
}

// Unwrap returns ErrNack.
func (e *NackError) Unwrap() error { return ErrNack }
