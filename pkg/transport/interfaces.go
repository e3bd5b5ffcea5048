package transport

import (
	"context"
	"net"
	"time"
)

// MessageLink is the bridge side of a camera link.
// Implemented by Link.
type MessageLink interface {
	// Send queues one frame; it never waits for the stream.
	Send(data []byte) error

	// Poll waits up to timeout for an inbound frame.
	Poll(timeout time.Duration) bool

	// Receive returns the frame Poll saw, without blocking.
	Receive() ([]byte, error)

	// Close releases the link. Close is idempotent.
	Close() error
}

// EndpointServer is the camera side of a link.
// Implemented by Server.
type EndpointServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and all connections.
	Stop() error

	// Addr returns the listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of open connections.
	ConnectionCount() int
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ MessageLink     = (*Link)(nil)
	_ EndpointServer  = (*Server)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
