package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orca-control/orca-go/pkg/log"
)

// ServerConfig configures a framed endpoint server.
type ServerConfig struct {
	// Endpoint to listen on. A tcp port of 0 picks a free port.
	Endpoint Endpoint

	// MaxMessageSize is the maximum frame payload (default: 1 MiB).
	MaxMessageSize uint32

	// Logger receives operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger receives frame capture events (optional).
	ProtocolLogger log.Logger

	// OnConnect is called when a new connection is accepted.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a connection is closed.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every frame received, from the connection's
	// read goroutine.
	OnMessage func(conn *ServerConn, msg []byte)
}

// Server accepts framed connections on one endpoint. It plays the camera
// side of a link.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. It does not listen until Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Endpoint.IsZero() {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidEndpoint)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		config: config,
		logger: logger.With("listen", config.Endpoint.String()),
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	ep := s.config.Endpoint
	if ep.Scheme == SchemeIPC {
		// A stale socket file from a previous run blocks the bind.
		_ = os.Remove(ep.Address)
	}

	listener, err := net.Listen(ep.Network(), ep.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Debug("server started", "addr", listener.Addr().String())
	return nil
}

// Stop closes the listener and all connections.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()

	if s.config.Endpoint.Scheme == SchemeIPC {
		_ = os.Remove(s.config.Endpoint.Address)
	}
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Endpoint returns the endpoint clients should dial. For a tcp server
// started on port 0 this carries the chosen port.
func (s *Server) Endpoint() Endpoint {
	if s.listener == nil || s.config.Endpoint.Scheme != SchemeTCP {
		return s.config.Endpoint
	}
	return Endpoint{Scheme: SchemeTCP, Address: s.listener.Addr().String()}
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()
	framer := NewFramer(conn, s.config.MaxMessageSize)
	framer.SetCapture(s.config.ProtocolLogger, connID, "", s.config.Endpoint.String())

	sc := &ServerConn{
		conn:   conn,
		framer: framer,
		connID: connID,
	}

	s.connsMu.Lock()
	if !s.running.Load() {
		s.connsMu.Unlock()
		conn.Close()
		return
	}
	s.conns[sc] = struct{}{}
	s.connsMu.Unlock()

	s.logger.Debug("client connected", "conn", connID, "remote", conn.RemoteAddr().String())
	if s.config.OnConnect != nil {
		s.config.OnConnect(sc)
	}

	for {
		data, err := framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.running.Load() {
				s.logger.Debug("read failed", "conn", connID, "error", err)
			}
			break
		}
		if s.config.OnMessage != nil {
			s.config.OnMessage(sc, data)
		}
	}

	sc.Close()

	s.connsMu.Lock()
	delete(s.conns, sc)
	s.connsMu.Unlock()

	s.logger.Debug("client disconnected", "conn", connID)
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sc)
	}
}

// ServerConn is one accepted connection.
type ServerConn struct {
	conn      net.Conn
	framer    *Framer
	connID    string
	closeOnce sync.Once
}

// ConnID returns the connection identity.
func (c *ServerConn) ConnID() string { return c.connID }

// RemoteAddr returns the peer address.
func (c *ServerConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send writes one frame to the peer.
func (c *ServerConn) Send(data []byte) error {
	return c.framer.WriteFrame(data)
}

// Close closes the connection. Close is idempotent.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
