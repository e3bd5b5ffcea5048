package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orca-control/orca-go/pkg/log"
	"github.com/orca-control/orca-go/pkg/transport"
	"github.com/orca-control/orca-go/pkg/wire"
)

// Timeouts.
const (
	// DefaultTimeout bounds an ordinary request.
	DefaultTimeout = time.Second

	// DefaultConnectTimeout bounds connect-class commands, which make the
	// camera open its hardware and routinely take a few seconds.
	DefaultConnectTimeout = 5 * time.Second
)

// DefaultConnectVerbs are the commands that use the connect timeout.
var DefaultConnectVerbs = []string{"connect"}

// Link is the framed link a session exchanges messages over.
// Implemented by transport.Link.
type Link interface {
	Send(data []byte) error
	Poll(timeout time.Duration) bool
	Receive() ([]byte, error)
	Close() error
}

// DialFunc opens a link to the session's endpoint.
type DialFunc func() (Link, error)

// Observer is told the consecutive-failure count after every exchange.
// Zero means the camera answered.
type Observer func(failures int)

// Config configures a Session.
type Config struct {
	// Name is the camera name.
	Name string

	// Endpoint is the camera control endpoint.
	Endpoint string

	// Codec encodes messages (default: wire.JSON).
	Codec wire.Codec

	// Timeout bounds ordinary requests (default: 1s).
	Timeout time.Duration

	// ConnectTimeout bounds connect-class commands (default: 5s).
	ConnectTimeout time.Duration

	// ConnectVerbs lists the connect-class commands (default: "connect").
	ConnectVerbs []string

	// Dial opens the link. The default dials a transport.Link at Endpoint.
	Dial DialFunc

	// Link options for the default Dial.
	Link transport.LinkConfig

	// Logger receives operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger receives message capture events (optional).
	ProtocolLogger log.Logger
}

// Session issues correlated requests to one camera and caches what it
// reports. Each session owns its link, id counter and failure counter.
type Session struct {
	name           string
	endpoint       string
	codec          wire.Codec
	timeout        time.Duration
	connectTimeout time.Duration
	connectVerbs   map[string]bool
	dial           DialFunc
	logger         *slog.Logger
	capture        log.Logger
	linkID         string

	// linkMu serialises exchanges and guards link, nextID and closed.
	linkMu sync.Mutex
	link   Link
	nextID uint64
	closed bool

	mu       sync.RWMutex
	config   Snapshot
	status   Snapshot
	failures int

	obsMu     sync.Mutex
	observers []Observer
}

// New creates a session and opens its link. Opening never waits for the
// camera; it fails only when the endpoint is malformed.
func New(cfg Config) (*Session, error) {
	if cfg.Codec == nil {
		cfg.Codec = wire.JSON
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ConnectVerbs == nil {
		cfg.ConnectVerbs = DefaultConnectVerbs
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Session{
		name:           cfg.Name,
		endpoint:       cfg.Endpoint,
		codec:          cfg.Codec,
		timeout:        cfg.Timeout,
		connectTimeout: cfg.ConnectTimeout,
		connectVerbs:   make(map[string]bool, len(cfg.ConnectVerbs)),
		dial:           cfg.Dial,
		logger:         cfg.Logger.With("device", cfg.Name, "endpoint", cfg.Endpoint),
		capture:        cfg.ProtocolLogger,
		config:         Snapshot{},
		status:         Snapshot{},
	}
	for _, v := range cfg.ConnectVerbs {
		s.connectVerbs[v] = true
	}

	if s.dial == nil {
		linkCfg := cfg.Link
		linkCfg.Name = cfg.Name
		if linkCfg.Logger == nil {
			linkCfg.Logger = cfg.Logger
		}
		if linkCfg.ProtocolLogger == nil {
			linkCfg.ProtocolLogger = cfg.ProtocolLogger
		}
		endpoint := cfg.Endpoint
		s.dial = func() (Link, error) {
			return transport.Dial(endpoint, linkCfg)
		}
	}

	link, err := s.dial()
	if err != nil {
		return nil, err
	}
	s.setLinkLocked(link)
	return s, nil
}

// Name returns the camera name.
func (s *Session) Name() string { return s.name }

// Endpoint returns the camera endpoint.
func (s *Session) Endpoint() string { return s.endpoint }

// Observe registers fn to be told the failure count after every exchange.
func (s *Session) Observe(fn Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Config returns a copy of the cached configuration.
func (s *Session) Config() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// StatusSnapshot returns a copy of the cached status.
func (s *Session) StatusSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Clone()
}

// ConfigValue returns one cached configuration value.
func (s *Session) ConfigValue(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Get(key)
}

// StatusValue returns one cached status value.
func (s *Session) StatusValue(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Get(key)
}

// Failures returns the consecutive-failure count.
func (s *Session) Failures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures
}

// ResetFailures clears the consecutive-failure counter without an exchange.
// Observers are not notified.
func (s *Session) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// Request sends command with params and waits up to timeout for the reply
// carrying the same id. Replies with other ids are discarded.
//
// Any reply resets the failure counter; a timeout increments it. A nack is
// returned as *NackError.
func (s *Session) Request(ctx context.Context, command string, params map[string]any, timeout time.Duration) (*wire.Message, error) {
	if timeout <= 0 {
		timeout = s.timeout
	}

	reply, answered, err := s.exchange(ctx, command, params, timeout)
	if answered {
		s.recordOutcome(true)
	} else if errors.Is(err, ErrTimeout) {
		s.recordOutcome(false)
	}
	return reply, err
}

// exchange performs one request under the link lock. answered reports
// whether the camera replied at all.
func (s *Session) exchange(ctx context.Context, command string, params map[string]any, timeout time.Duration) (*wire.Message, bool, error) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	if s.closed || s.link == nil {
		return nil, false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.nextID++
	id := s.nextID
	msg := wire.NewCommand(command, id, params)

	data, err := s.codec.Encode(msg)
	if err != nil {
		return nil, false, fmt.Errorf("encode %s: %w", command, err)
	}

	level := levelFor(ctx)
	s.logger.Log(ctx, level, "sending request", "command", command, "id", id, "params", params)
	s.captureMessage(msg, log.DirectionOut, nil)

	sent := time.Now()
	if err := s.link.Send(data); err != nil {
		return nil, false, fmt.Errorf("send %s: %w", command, err)
	}

	deadline := sent.Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || !s.link.Poll(remaining) {
			break
		}

		frame, err := s.link.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrNoFrame) {
				continue
			}
			return nil, false, fmt.Errorf("receive %s: %w", command, err)
		}

		reply, err := s.codec.Decode(frame)
		if err != nil {
			s.captureError(command, err)
			return nil, true, &ProtocolError{Device: s.name, Command: command, Reason: "undecodable reply", Err: err}
		}
		if !reply.IsReply() {
			s.logger.Debug("ignoring unsolicited message", "type", reply.Type, "command", reply.Command)
			continue
		}
		if reply.ID != id {
			s.logger.Debug("discarding stale reply", "id", reply.ID, "want", id, "command", reply.Command)
			continue
		}

		rtt := time.Since(sent)
		s.captureMessage(reply, log.DirectionIn, &rtt)

		if reply.IsNack() {
			err := &NackError{Device: s.name, Command: command, ID: id, Reason: reply.ErrorText()}
			s.logger.Warn("request rejected", "command", command, "id", id, "reason", err.Reason)
			return reply, true, err
		}
		s.logger.Log(ctx, level, "got reply", "command", command, "id", id, "rtt", rtt)
		return reply, true, nil
	}

	err = &TimeoutError{Device: s.name, Command: command, ID: id, Timeout: timeout}
	if level == slog.LevelDebug {
		s.logger.Debug("request timed out", "command", command, "id", id)
	} else {
		s.logger.Warn("request timed out", "command", command, "id", id, "timeout", timeout)
	}
	s.captureError(command, err)
	return nil, false, err
}

func (s *Session) recordOutcome(answered bool) {
	s.mu.Lock()
	if answered {
		s.failures = 0
	} else {
		s.failures++
	}
	failures := s.failures
	s.mu.Unlock()

	s.obsMu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.Unlock()

	for _, fn := range observers {
		fn(failures)
	}
}

// Status asks the camera for its status and replaces the cached status.
func (s *Session) Status(ctx context.Context) (Snapshot, error) {
	reply, err := s.Request(ctx, wire.CmdStatus, nil, s.timeout)
	if err != nil {
		return nil, err
	}
	status, ok := reply.ParamMap(wire.ParamStatus)
	if !ok {
		return nil, &ProtocolError{Device: s.name, Command: wire.CmdStatus, Reason: "reply has no status mapping"}
	}

	snap := Snapshot(status).Clone()
	s.mu.Lock()
	s.status = snap
	s.mu.Unlock()
	return snap.Clone(), nil
}

// RequestConfiguration runs discovery: it asks the camera for its full
// configuration and atomically replaces the cached configuration.
func (s *Session) RequestConfiguration(ctx context.Context) (Snapshot, error) {
	reply, err := s.Request(ctx, wire.CmdRequestConfiguration, nil, s.timeout)
	if err != nil {
		return nil, err
	}
	camera, ok := reply.ParamMap(wire.ParamCamera)
	if !ok {
		return nil, &ProtocolError{Device: s.name, Command: wire.CmdRequestConfiguration, Reason: "reply has no camera mapping"}
	}

	snap := Snapshot(camera).Clone()
	s.mu.Lock()
	s.config = snap
	s.mu.Unlock()
	return snap.Clone(), nil
}

// Configure writes one configuration value. The cached value is updated
// before the request is sent and stays in place if the request fails; the
// next discovery reply is authoritative.
func (s *Session) Configure(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	s.config[key] = value
	s.mu.Unlock()

	_, err := s.Request(ctx, wire.CmdConfigure, map[string]any{
		wire.ParamCamera: map[string]any{key: value},
	}, s.timeout)
	return err
}

// ConfigureAll pushes a full or partial configuration. The cache is not
// touched; it refreshes on the next discovery.
func (s *Session) ConfigureAll(ctx context.Context, values map[string]any) error {
	_, err := s.Request(ctx, wire.CmdConfigure, map[string]any{
		wire.ParamCamera: values,
	}, s.timeout)
	return err
}

// Command sends an opaque verb (connect, disconnect, capture, ...) and then
// refreshes the status quietly. Connect-class verbs get the longer timeout
// for this request only.
func (s *Session) Command(ctx context.Context, verb string) error {
	timeout := s.timeout
	if s.connectVerbs[verb] {
		timeout = s.connectTimeout
	}

	s.logger.Info("sending command", "command", verb)
	_, err := s.Request(ctx, wire.CmdConfigure, map[string]any{wire.ParamCommand: verb}, timeout)

	if _, serr := s.Status(WithQuiet(ctx)); serr != nil {
		s.logger.Debug("status refresh after command failed", "error", serr)
	}
	return err
}

// Relink closes the link and opens a fresh one at the same endpoint. The
// cached snapshots are cleared and the failure counter reset; the caller
// re-runs discovery.
func (s *Session) Relink() error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}

	link, err := s.dial()
	if err != nil {
		return fmt.Errorf("relink %s: %w", s.name, err)
	}
	s.setLinkLocked(link)

	s.mu.Lock()
	s.config = Snapshot{}
	s.status = Snapshot{}
	s.failures = 0
	s.mu.Unlock()

	s.logger.Info("link rebuilt")
	s.captureState("RELINKED")
	return nil
}

// Close releases the link. Close is idempotent.
func (s *Session) Close() error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}
	s.captureState("CLOSED")
	return nil
}

func (s *Session) setLinkLocked(link Link) {
	s.link = link
	s.linkID = ""
	if l, ok := link.(interface{ ID() string }); ok {
		s.linkID = l.ID()
	}
}
