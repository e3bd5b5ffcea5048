package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orca-control/orca-go/pkg/connection"
	"github.com/orca-control/orca-go/pkg/log"
)

// Link defaults.
const (
	// DefaultSendHWM is the number of frames queued while the stream is down.
	DefaultSendHWM = 64

	// DefaultRecvHWM is the number of received frames buffered for Poll.
	DefaultRecvHWM = 64

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = time.Second
)

// Link errors.
var (
	// ErrLinkClosed is returned by operations on a closed link.
	ErrLinkClosed = errors.New("link closed")

	// ErrNoFrame is returned by Receive when no frame is pending.
	ErrNoFrame = errors.New("no frame available")
)

// LinkConfig configures a Link.
type LinkConfig struct {
	// Name is the camera name, used in logs.
	Name string

	// MaxMessageSize is the maximum frame payload (default: 1 MiB).
	MaxMessageSize uint32

	// SendHWM bounds the queue of frames sent before the stream exists
	// (default: 64). The oldest frame is dropped when full.
	SendHWM int

	// RecvHWM bounds unread inbound frames (default: 64). The oldest frame
	// is dropped when full.
	RecvHWM int

	// WriteTimeout bounds a frame write (default: 1s).
	WriteTimeout time.Duration

	// Dialer shapes background (re)dial attempts.
	Dialer connection.DialerConfig

	// Logger receives operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger receives frame and state capture events (optional).
	ProtocolLogger log.Logger
}

func (c *LinkConfig) applyDefaults() {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.SendHWM <= 0 {
		c.SendHWM = DefaultSendHWM
	}
	if c.RecvHWM <= 0 {
		c.RecvHWM = DefaultRecvHWM
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Link is an asynchronous framed link to one camera endpoint.
type Link struct {
	endpoint Endpoint
	id       string
	config   LinkConfig
	dialer   *connection.Dialer
	logger   *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	framer  *Framer
	pending [][]byte
	closed  bool

	inbox chan []byte

	recvMu  sync.Mutex
	peeked  []byte
	hasPeek bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial creates a link to endpoint and starts connecting in the background.
// It returns immediately; the only error is a malformed endpoint.
func Dial(endpoint string, config LinkConfig) (*Link, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return DialEndpoint(ep, config), nil
}

// DialEndpoint is like Dial for an already parsed endpoint.
func DialEndpoint(ep Endpoint, config LinkConfig) *Link {
	config.applyDefaults()

	l := &Link{
		endpoint: ep,
		id:       uuid.New().String(),
		config:   config,
		inbox:    make(chan []byte, config.RecvHWM),
	}
	l.logger = config.Logger.With("device", config.Name, "endpoint", ep.String(), "link", l.id)

	l.dialer = connection.NewDialer(l.dial, config.Dialer)
	l.dialer.OnStateChange(l.onDialerState)
	_ = l.dialer.Start()

	return l
}

// ID returns the link identity.
func (l *Link) ID() string { return l.id }

// Endpoint returns the endpoint the link dials.
func (l *Link) Endpoint() Endpoint { return l.endpoint }

// IsConnected reports whether a byte stream is currently established.
// This is transport state only; it says nothing about the camera answering.
func (l *Link) IsConnected() bool { return l.dialer.IsConnected() }

// Send queues one frame for the camera. It does not wait for the stream:
// frames sent while disconnected are held (up to the high-water mark) and
// flushed when the stream is established.
func (l *Link) Send(data []byte) error {
	if err := checkSize(len(data), l.config.MaxMessageSize); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}

	if l.conn == nil {
		l.enqueueLocked(data)
		return nil
	}

	if err := l.writeLocked(data); err != nil {
		// The reader observes the closed socket and triggers a redial.
		l.logger.Debug("send failed, dropping stream", "error", err)
		l.conn.Close()
		l.conn, l.framer = nil, nil
	}
	return nil
}

// Poll waits up to timeout for an inbound frame. It returns true when
// Receive will return a frame without blocking.
func (l *Link) Poll(timeout time.Duration) bool {
	l.recvMu.Lock()
	defer l.recvMu.Unlock()

	if l.hasPeek {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-l.inbox:
		if !ok {
			return false
		}
		l.peeked, l.hasPeek = data, true
		return true
	case <-timer.C:
		return false
	}
}

// Receive returns one inbound frame without blocking. It returns
// ErrNoFrame when nothing is pending and ErrLinkClosed after Close.
func (l *Link) Receive() ([]byte, error) {
	l.recvMu.Lock()
	defer l.recvMu.Unlock()

	if l.hasPeek {
		data := l.peeked
		l.peeked, l.hasPeek = nil, false
		return data, nil
	}

	select {
	case data, ok := <-l.inbox:
		if !ok {
			return nil, ErrLinkClosed
		}
		return data, nil
	default:
		return nil, ErrNoFrame
	}
}

// Close stops background dialing and releases the socket. Close is
// idempotent.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.pending = nil
		l.mu.Unlock()

		l.dialer.Close()

		l.mu.Lock()
		if l.conn != nil {
			l.conn.Close()
			l.conn, l.framer = nil, nil
		}
		l.mu.Unlock()

		l.wg.Wait()
		close(l.inbox)
		l.logger.Debug("link closed")
	})
	return nil
}

// dial is the connection.DialFunc: it opens the socket, flushes queued
// frames and starts the reader.
func (l *Link) dial(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, l.endpoint.Network(), l.endpoint.Address)
	if err != nil {
		l.logger.Debug("dial failed", "error", err)
		return err
	}

	framer := NewFramer(conn, l.config.MaxMessageSize)
	framer.SetCapture(l.config.ProtocolLogger, l.id, l.config.Name, l.endpoint.String())

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		conn.Close()
		return ErrLinkClosed
	}

	l.conn, l.framer = conn, framer
	for len(l.pending) > 0 {
		if err := l.writeLocked(l.pending[0]); err != nil {
			conn.Close()
			l.conn, l.framer = nil, nil
			return fmt.Errorf("flush queued frames: %w", err)
		}
		l.pending = l.pending[1:]
	}
	l.pending = nil

	l.wg.Add(1)
	go l.readLoop(conn, framer)
	return nil
}

func (l *Link) readLoop(conn net.Conn, framer *Framer) {
	defer l.wg.Done()

	for {
		data, err := framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.logger.Debug("read failed", "error", err)
			}
			break
		}
		l.deliver(data)
	}

	l.mu.Lock()
	if l.conn == conn {
		conn.Close()
		l.conn, l.framer = nil, nil
	}
	l.mu.Unlock()

	l.dialer.NotifyConnectionLost()
}

// deliver buffers an inbound frame, dropping the oldest unread frame when
// the buffer is full.
func (l *Link) deliver(data []byte) {
	for {
		select {
		case l.inbox <- data:
			return
		default:
		}
		select {
		case <-l.inbox:
			l.logger.Debug("receive buffer full, dropped oldest frame")
		default:
		}
	}
}

func (l *Link) enqueueLocked(data []byte) {
	frame := append([]byte(nil), data...)
	if len(l.pending) >= l.config.SendHWM {
		l.pending = l.pending[1:]
		l.logger.Debug("send queue full, dropped oldest frame")
	}
	l.pending = append(l.pending, frame)
}

func (l *Link) writeLocked(data []byte) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
	return l.framer.WriteFrame(data)
}

func (l *Link) onDialerState(oldState, newState connection.State) {
	l.logger.Debug("link state", "from", oldState.String(), "to", newState.String())
	if l.config.ProtocolLogger == nil {
		return
	}
	l.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		LinkID:    l.id,
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		Device:    l.config.Name,
		Endpoint:  l.endpoint.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityLink,
			OldState: oldState.String(),
			NewState: newState.String(),
		},
	})
}
