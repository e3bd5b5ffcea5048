package simulator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/orca-control/orca-go/pkg/log"
	"github.com/orca-control/orca-go/pkg/transport"
	"github.com/orca-control/orca-go/pkg/wire"
)

// ServerConfig configures a simulated camera endpoint.
type ServerConfig struct {
	// Endpoint to listen on (default: tcp://127.0.0.1:0).
	Endpoint string

	// Codec decodes requests and encodes replies (default: wire.JSON).
	Codec wire.Codec

	// ReplyDelay holds every reply back, for timeout testing.
	ReplyDelay time.Duration

	// Logger receives operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger receives frame capture events (optional).
	ProtocolLogger log.Logger
}

// Server serves one Device on a framed endpoint.
type Server struct {
	device *Device
	codec  wire.Codec
	logger *slog.Logger
	server *transport.Server
	delay  atomic.Int64
}

// NewServer creates a server for device. It does not listen until Start.
func NewServer(device *Device, cfg ServerConfig) (*Server, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "tcp://127.0.0.1:0"
	}
	if cfg.Codec == nil {
		cfg.Codec = wire.JSON
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	ep, err := transport.ParseListenEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	s := &Server{
		device: device,
		codec:  cfg.Codec,
		logger: cfg.Logger.With("sim", device.Name()),
	}
	s.delay.Store(int64(cfg.ReplyDelay))

	s.server, err = transport.NewServer(transport.ServerConfig{
		Endpoint:       ep,
		Logger:         cfg.Logger,
		ProtocolLogger: cfg.ProtocolLogger,
		OnMessage:      s.handle,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins listening.
func (s *Server) Start(ctx context.Context) error {
	return s.server.Start(ctx)
}

// Stop closes the listener and every connection.
func (s *Server) Stop() error {
	return s.server.Stop()
}

// Endpoint returns the address clients should dial.
func (s *Server) Endpoint() string {
	return s.server.Endpoint().String()
}

// Device returns the served device.
func (s *Server) Device() *Device { return s.device }

// SetReplyDelay changes the reply delay for subsequent requests.
func (s *Server) SetReplyDelay(d time.Duration) {
	s.delay.Store(int64(d))
}

func (s *Server) handle(conn *transport.ServerConn, data []byte) {
	msg, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("dropping undecodable request", "conn", conn.ConnID(), "error", err)
		return
	}

	reply := s.device.Handle(msg)
	if reply == nil {
		return
	}
	if d := time.Duration(s.delay.Load()); d > 0 {
		time.Sleep(d)
	}

	out, err := s.codec.Encode(reply)
	if err != nil {
		s.logger.Warn("encode reply failed", "command", msg.Command, "error", err)
		return
	}
	if err := conn.Send(out); err != nil {
		s.logger.Debug("send reply failed", "conn", conn.ConnID(), "error", err)
	}
}
