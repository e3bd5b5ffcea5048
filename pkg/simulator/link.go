package simulator

import (
	"sync"
	"time"

	"github.com/orca-control/orca-go/pkg/transport"
	"github.com/orca-control/orca-go/pkg/wire"
)

// Link is an in-process link to a Device. Frames are handled synchronously
// on Send and the reply is queued for Poll/Receive. It satisfies
// session.Link.
type Link struct {
	device *Device
	codec  wire.Codec
	inbox  chan []byte

	mu      sync.Mutex
	pending []byte
	closed  bool
}

// NewLink returns a link to device. A nil codec means wire.JSON.
func NewLink(device *Device, codec wire.Codec) *Link {
	if codec == nil {
		codec = wire.JSON
	}
	return &Link{device: device, codec: codec, inbox: make(chan []byte, 64)}
}

// Send hands one frame to the device.
func (l *Link) Send(data []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return transport.ErrLinkClosed
	}

	msg, err := l.codec.Decode(data)
	if err != nil {
		return err
	}
	reply := l.device.Handle(msg)
	if reply == nil {
		return nil
	}
	out, err := l.codec.Encode(reply)
	if err != nil {
		return err
	}
	select {
	case l.inbox <- out:
	default:
		// Inbox full: the reply is lost, as on a congested socket.
	}
	return nil
}

// Poll waits up to timeout for a reply.
func (l *Link) Poll(timeout time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-l.inbox:
		l.pending = f
		return true
	case <-timer.C:
		return false
	}
}

// Receive returns the frame Poll found.
func (l *Link) Receive() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, transport.ErrLinkClosed
	}
	if l.pending == nil {
		return nil, transport.ErrNoFrame
	}
	f := l.pending
	l.pending = nil
	return f, nil
}

// Close marks the link closed. Close is idempotent.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
