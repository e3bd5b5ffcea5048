// Package camera ties one camera's session, poller and attribute tree
// together.
package camera

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orca-control/orca-go/pkg/log"
	"github.com/orca-control/orca-go/pkg/poller"
	"github.com/orca-control/orca-go/pkg/session"
	"github.com/orca-control/orca-go/pkg/transport"
	"github.com/orca-control/orca-go/pkg/tree"
	"github.com/orca-control/orca-go/pkg/wire"
)

// Config configures a Camera.
type Config struct {
	// Name and Endpoint identify the camera.
	Name     string
	Endpoint string

	// PollEnabled starts the poller after discovery.
	PollEnabled bool

	// PollInterval is the poller tick interval (default: 1s).
	PollInterval time.Duration

	// FailureCeiling halts the poller (default: 10).
	FailureCeiling int

	// Codec encodes messages (default: wire.JSON).
	Codec wire.Codec

	// Timeout and ConnectTimeout bound requests (defaults: 1s, 5s).
	Timeout        time.Duration
	ConnectTimeout time.Duration

	// Link options for the camera link.
	Link transport.LinkConfig

	// Dial replaces the transport link (tests).
	Dial session.DialFunc

	// OnRebuild is called after the attribute tree is rebuilt because the
	// discovered key set changed or the camera reconnected.
	OnRebuild func(name string)

	// Logger receives operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger receives capture events (optional).
	ProtocolLogger log.Logger
}

// Camera is one managed camera.
type Camera struct {
	name      string
	endpoint  string
	session   *session.Session
	poller    *poller.Poller
	logger    *slog.Logger
	onRebuild func(string)

	mu         sync.RWMutex
	tree       *tree.Node
	configKeys []string
	statusKeys []string
	rebuilds   atomic.Uint64

	// reconnectMu serialises Reconnect.
	reconnectMu sync.Mutex
}

var _ Backend = (*Camera)(nil)
var _ poller.Target = (*Camera)(nil)

// New opens the camera's link, runs discovery and builds its tree. Discovery
// failures are logged, not returned: an unreachable camera still gets a tree
// and can be reconnected later. The only errors are configuration errors.
func New(ctx context.Context, cfg Config) (*Camera, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sess, err := session.New(session.Config{
		Name:           cfg.Name,
		Endpoint:       cfg.Endpoint,
		Codec:          cfg.Codec,
		Timeout:        cfg.Timeout,
		ConnectTimeout: cfg.ConnectTimeout,
		Dial:           cfg.Dial,
		Link:           cfg.Link,
		Logger:         logger,
		ProtocolLogger: cfg.ProtocolLogger,
	})
	if err != nil {
		return nil, err
	}

	c := &Camera{
		name:      cfg.Name,
		endpoint:  cfg.Endpoint,
		session:   sess,
		logger:    logger.With("device", cfg.Name),
		onRebuild: cfg.OnRebuild,
	}

	p, err := poller.New(c, poller.Config{
		Name:           cfg.Name,
		Interval:       cfg.PollInterval,
		Ceiling:        cfg.FailureCeiling,
		Logger:         logger,
		ProtocolLogger: cfg.ProtocolLogger,
	})
	if err != nil {
		sess.Close()
		return nil, err
	}
	c.poller = p
	sess.Observe(p.Observe)

	c.discover(ctx)
	c.rebuild(false)

	if cfg.PollEnabled {
		p.Start()
	}
	return c, nil
}

// Name returns the camera name.
func (c *Camera) Name() string { return c.name }

// Endpoint returns the camera endpoint.
func (c *Camera) Endpoint() string { return c.endpoint }

// Tree returns the current attribute tree.
func (c *Camera) Tree() *tree.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree
}

// Rebuilds returns how many times the tree was rebuilt after construction.
func (c *Camera) Rebuilds() uint64 { return c.rebuilds.Load() }

// Poller returns the camera's poller.
func (c *Camera) Poller() *poller.Poller { return c.poller }

// Get reads path relative to the camera's tree.
func (c *Camera) Get(path string) (any, error) {
	return c.Tree().Get(path)
}

// Set writes path relative to the camera's tree.
func (c *Camera) Set(ctx context.Context, path string, value any) error {
	return c.Tree().Set(ctx, path, value)
}

// discover runs request_configuration then status.
func (c *Camera) discover(ctx context.Context) {
	if _, err := c.session.RequestConfiguration(ctx); err != nil {
		c.logger.Warn("discovery failed", "error", err)
	}
	if _, err := c.session.Status(ctx); err != nil {
		c.logger.Warn("status request failed", "error", err)
	}
}

// rebuild replaces the tree from the session's current snapshots. Unless
// forced it does nothing when the key sets are unchanged.
func (c *Camera) rebuild(force bool) {
	config := c.session.Config()
	status := c.session.StatusSnapshot()
	configKeys, statusKeys := config.Keys(), status.Keys()

	c.mu.Lock()
	if !force && c.tree != nil &&
		slices.Equal(configKeys, c.configKeys) && slices.Equal(statusKeys, c.statusKeys) {
		c.mu.Unlock()
		return
	}
	initial := c.tree == nil
	c.tree = BuildTree(TreeSpec{
		Name:     c.name,
		Endpoint: c.endpoint,
		Config:   config,
		Status:   status,
	}, c)
	c.configKeys, c.statusKeys = configKeys, statusKeys
	c.mu.Unlock()

	if initial {
		return
	}
	c.rebuilds.Add(1)
	c.logger.Info("attribute tree rebuilt", "config_keys", len(configKeys), "status_keys", len(statusKeys))
	if c.onRebuild != nil {
		c.onRebuild(c.name)
	}
}

// Status refreshes the status snapshot; a changed key set rebuilds the tree.
func (c *Camera) Status(ctx context.Context) (session.Snapshot, error) {
	snap, err := c.session.Status(ctx)
	if err == nil {
		c.rebuild(false)
	}
	return snap, err
}

// RequestConfiguration re-runs discovery; a changed key set rebuilds the
// tree.
func (c *Camera) RequestConfiguration(ctx context.Context) (session.Snapshot, error) {
	snap, err := c.session.RequestConfiguration(ctx)
	if err == nil {
		c.rebuild(false)
	}
	return snap, err
}

// ResetFailures clears the session's failure counter.
func (c *Camera) ResetFailures() { c.session.ResetFailures() }

// ConfigValue returns a cached configuration value.
func (c *Camera) ConfigValue(key string) (any, bool) { return c.session.ConfigValue(key) }

// StatusValue returns a cached status value.
func (c *Camera) StatusValue(key string) (any, bool) { return c.session.StatusValue(key) }

// Configure writes one configuration value.
func (c *Camera) Configure(ctx context.Context, key string, value any) error {
	return c.session.Configure(ctx, key, value)
}

// Command sends a command verb.
func (c *Camera) Command(ctx context.Context, verb string) error {
	return c.session.Command(ctx, verb)
}

// Connected returns the poller's belief that the camera answers.
func (c *Camera) Connected() bool { return c.poller.Connected() }

// Failures returns the consecutive-failure count.
func (c *Camera) Failures() int { return c.session.Failures() }

// PollInterval returns the poller interval.
func (c *Camera) PollInterval() time.Duration { return c.poller.Interval() }

// SetPollInterval changes the poller interval.
func (c *Camera) SetPollInterval(d time.Duration) error { return c.poller.SetInterval(d) }

// PollEnabled reports whether the poller is running.
func (c *Camera) PollEnabled() bool { return c.poller.Enabled() }

// SetPollEnabled starts or stops the poller.
func (c *Camera) SetPollEnabled(enable bool) { c.poller.SetEnabled(enable) }

// PollState returns "stopped", "running" or "halted".
func (c *Camera) PollState() string { return c.poller.State().String() }

// Reconnect tears the camera down to its link and builds it up again:
// stop polling, close and re-dial the link at the same endpoint, run
// discovery, rebuild the tree from scratch and resume polling if it was
// running or halted. Keys the camera no longer reports disappear.
func (c *Camera) Reconnect(ctx context.Context) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	resume := c.poller.State() != poller.StateStopped
	c.poller.Stop()

	c.logger.Info("reconnecting", "endpoint", c.endpoint)
	if err := c.session.Relink(); err != nil {
		return err
	}

	c.discover(ctx)
	c.rebuild(true)

	if resume {
		c.poller.Start()
	}
	return nil
}

// Close stops polling and releases the link.
func (c *Camera) Close() error {
	c.poller.Close()
	return c.session.Close()
}
