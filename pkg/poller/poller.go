// Package poller refreshes a camera's status and configuration in the
// background and halts itself when the camera stops answering.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orca-control/orca-go/pkg/log"
	"github.com/orca-control/orca-go/pkg/session"
)

// Poller defaults.
const (
	// DefaultInterval is the time between refresh ticks.
	DefaultInterval = time.Second

	// DefaultCeiling is the consecutive-failure count that halts polling.
	DefaultCeiling = 10

	// MinCeiling and MaxCeiling bound a configured ceiling.
	MinCeiling = 10
	MaxCeiling = 20
)

// Poller errors.
var (
	ErrInvalidInterval = errors.New("poll interval must be positive")
	ErrInvalidCeiling  = errors.New("failure ceiling out of range")
)

// State is the poller lifecycle state.
type State uint8

const (
	// StateStopped: not polling, by operator choice.
	StateStopped State = iota

	// StateRunning: ticking every interval.
	StateRunning

	// StateHalted: stopped by the failure ceiling.
	StateHalted
)

// String returns the state name as exposed in the attribute tree.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Target is what a tick refreshes. Implemented by camera.Camera.
type Target interface {
	Status(ctx context.Context) (session.Snapshot, error)
	RequestConfiguration(ctx context.Context) (session.Snapshot, error)

	// ResetFailures clears the shared failure counter when polling starts.
	ResetFailures()
}

// Config configures a Poller.
type Config struct {
	// Name is the camera name, used in logs.
	Name string

	// Interval between ticks (default: 1s).
	Interval time.Duration

	// Ceiling is the consecutive-failure count that halts polling
	// (default: 10, valid 10-20).
	Ceiling int

	// Logger receives operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger receives state change events (optional).
	ProtocolLogger log.Logger
}

// Snapshot is the poller's externally visible state.
type Snapshot struct {
	State      State
	Interval   time.Duration
	Ceiling    int
	Failures   int
	Connected  bool
	HaltReason string
	HaltedAt   time.Time
	Ticks      uint64
}

// Poller drives periodic refresh of one camera.
type Poller struct {
	name    string
	target  Target
	logger  *slog.Logger
	capture log.Logger

	mu         sync.Mutex
	state      State
	interval   time.Duration
	ceiling    int
	failures   int
	connected  bool
	haltReason string
	haltedAt   time.Time
	ticks      uint64
	stopCh     chan struct{}

	wg sync.WaitGroup
}

// New creates a stopped poller. The camera is presumed connected until an
// exchange says otherwise.
func New(target Target, cfg Config) (*Poller, error) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, cfg.Interval)
	}
	if cfg.Ceiling == 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.Ceiling < MinCeiling || cfg.Ceiling > MaxCeiling {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCeiling, cfg.Ceiling, MinCeiling, MaxCeiling)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Poller{
		name:      cfg.Name,
		target:    target,
		logger:    cfg.Logger.With("device", cfg.Name, "component", "poller"),
		capture:   cfg.ProtocolLogger,
		interval:  cfg.Interval,
		ceiling:   cfg.Ceiling,
		connected: true,
	}, nil
}

// Start begins polling from Stopped or Halted. It resets the failure
// counter and presumes the camera connected. Starting a running poller is a
// no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning {
		return
	}
	old := p.state

	p.target.ResetFailures()
	p.failures = 0
	p.connected = true
	p.haltReason = ""
	p.haltedAt = time.Time{}
	p.state = StateRunning

	stop := make(chan struct{})
	p.stopCh = stop
	p.wg.Add(1)
	go p.loop(stop)

	p.logger.Debug("polling started", "interval", p.interval)
	p.captureState(old, StateRunning, "")
}

// Stop stops polling at the operator's request. It does not change the
// connected belief. A halted poller becomes stopped.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return
	}
	old := p.state
	if p.state == StateRunning {
		close(p.stopCh)
	}
	p.state = StateStopped

	p.logger.Debug("polling stopped")
	p.captureState(old, StateStopped, "operator")
}

// SetEnabled starts or stops polling. Repeating the current setting does
// nothing.
func (p *Poller) SetEnabled(enable bool) {
	if enable {
		p.Start()
	} else {
		p.Stop()
	}
}

// Enabled reports whether the poller is running.
func (p *Poller) Enabled() bool {
	return p.State() == StateRunning
}

// State returns the lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connected returns the poller's belief that the camera is answering.
func (p *Poller) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Interval returns the tick interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetInterval changes the tick interval. The wait in progress is not
// shortened or extended; the next wait uses the new interval.
func (p *Poller) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, d)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
	p.logger.Debug("poll interval changed", "interval", d)
	return nil
}

// Snapshot returns the current poll state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		State:      p.state,
		Interval:   p.interval,
		Ceiling:    p.ceiling,
		Failures:   p.failures,
		Connected:  p.connected,
		HaltReason: p.haltReason,
		HaltedAt:   p.haltedAt,
		Ticks:      p.ticks,
	}
}

// Observe receives the failure count after every exchange on the camera's
// session, whether or not the poller issued it. Register it with
// session.Session.Observe.
func (p *Poller) Observe(failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures = failures
	if failures == 0 {
		p.connected = true
		return
	}
	if failures < p.ceiling {
		return
	}

	p.connected = false
	if p.state == StateRunning {
		p.haltLocked(fmt.Sprintf("%d consecutive failures", failures))
	}
}

// Close stops polling and waits for the tick goroutines to exit.
func (p *Poller) Close() {
	p.Stop()
	p.wg.Wait()
}

func (p *Poller) haltLocked(reason string) {
	close(p.stopCh)
	p.state = StateHalted
	p.haltReason = reason
	p.haltedAt = time.Now()

	p.logger.Warn("polling halted", "reason", reason)
	p.captureState(StateRunning, StateHalted, reason)
}

func (p *Poller) loop(stop chan struct{}) {
	defer p.wg.Done()

	for {
		timer := time.NewTimer(p.Interval())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		p.tick(stop)
	}
}

// tick refreshes status then configuration. The second request is skipped
// when the first one halted the poller.
func (p *Poller) tick(stop chan struct{}) {
	ctx := session.WithQuiet(context.Background())

	if _, err := p.target.Status(ctx); err != nil {
		p.logger.Debug("status refresh failed", "error", err)
	}
	if stopped(stop) {
		return
	}
	if _, err := p.target.RequestConfiguration(ctx); err != nil {
		p.logger.Debug("configuration refresh failed", "error", err)
	}

	p.mu.Lock()
	p.ticks++
	p.mu.Unlock()
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (p *Poller) captureState(from, to State, reason string) {
	if p.capture == nil {
		return
	}
	p.capture.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		Device:    p.name,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityPoller,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}
