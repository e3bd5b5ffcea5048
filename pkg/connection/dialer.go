package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultAttemptTimeout bounds a single dial attempt.
const DefaultAttemptTimeout = 2 * time.Second

// ErrDialerClosed is returned by operations on a closed Dialer.
var ErrDialerClosed = errors.New("dialer closed")

// State is the stream state as seen by the Dialer.
type State uint8

const (
	// StateDisconnected: not started, no stream.
	StateDisconnected State = iota

	// StateConnecting: first attempt in progress.
	StateConnecting

	// StateConnected: a stream is established.
	StateConnected

	// StateReconnecting: the stream was lost or an attempt failed; retrying.
	StateReconnecting

	// StateClosed: the Dialer has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc establishes the stream. It returns nil once the stream is up.
type DialFunc func(ctx context.Context) error

// DialerConfig configures a Dialer.
type DialerConfig struct {
	// Backoff shapes the delay between failed attempts.
	Backoff BackoffConfig

	// AttemptTimeout bounds a single attempt (default: 2s).
	AttemptTimeout time.Duration
}

// Dialer keeps a stream established in the background.
type Dialer struct {
	mu sync.RWMutex

	state   State
	backoff *Backoff
	dial    DialFunc
	timeout time.Duration
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// lostCh is signalled when the current stream fails.
	lostCh chan struct{}

	onStateChange func(oldState, newState State)
}

// NewDialer returns a Dialer that calls dial until it succeeds.
func NewDialer(dial DialFunc, cfg DialerConfig) *Dialer {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Dialer{
		state:   StateDisconnected,
		backoff: NewBackoffWithConfig(cfg.Backoff),
		dial:    dial,
		timeout: cfg.AttemptTimeout,
		ctx:     ctx,
		cancel:  cancel,
		lostCh:  make(chan struct{}, 1),
	}
}

// OnStateChange registers a callback for state transitions. Call before Start.
func (d *Dialer) OnStateChange(fn func(oldState, newState State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStateChange = fn
}

// Start launches the background loop. The first attempt is immediate.
func (d *Dialer) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return ErrDialerClosed
	}
	if d.started {
		return nil
	}
	d.started = true

	d.wg.Add(1)
	go d.loop()
	return nil
}

// State returns the current state.
func (d *Dialer) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// IsConnected returns true while a stream is established.
func (d *Dialer) IsConnected() bool {
	return d.State() == StateConnected
}

// Attempts returns the number of failed attempts since the last success.
func (d *Dialer) Attempts() int {
	return d.backoff.Attempts()
}

// NotifyConnectionLost tells the Dialer the current stream failed. Call it
// exactly once per stream that DialFunc reported as established; the signal
// is held until the loop observes it, even if the stream dies immediately.
func (d *Dialer) NotifyConnectionLost() {
	select {
	case d.lostCh <- struct{}{}:
	default:
	}
}

// Close stops the loop and waits for it to exit. Close is idempotent.
func (d *Dialer) Close() {
	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.setState(StateClosed)
}

func (d *Dialer) loop() {
	defer d.wg.Done()

	next := StateConnecting
	for {
		if d.ctx.Err() != nil {
			return
		}
		d.setState(next)

		attemptCtx, cancel := context.WithTimeout(d.ctx, d.timeout)
		err := d.dial(attemptCtx)
		cancel()

		if err == nil {
			d.backoff.Reset()
			d.setState(StateConnected)

			select {
			case <-d.ctx.Done():
				return
			case <-d.lostCh:
				next = StateReconnecting
				continue
			}
		}

		next = StateReconnecting
		delay := d.backoff.Next()
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (d *Dialer) setState(s State) {
	d.mu.Lock()
	if d.state == s || d.state == StateClosed {
		d.mu.Unlock()
		return
	}
	old := d.state
	d.state = s
	fn := d.onStateChange
	d.mu.Unlock()

	if fn != nil {
		fn(old, s)
	}
}
