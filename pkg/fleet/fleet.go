// Package fleet manages a set of cameras behind one attribute tree.
//
// Every camera's tree appears under cameras/<name>:
//
//	cameras/cam_a/camera_name
//	cameras/cam_a/config/exposure_time
//	cameras/cam_a/connection/connected
//	...
//
// Get and Set take slash-separated paths from the root. Errors carry a kind
// (see Kind) so an adapter can tell a bad path from a failing camera.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/orca-control/orca-go/pkg/camera"
	"github.com/orca-control/orca-go/pkg/log"
	"github.com/orca-control/orca-go/pkg/poller"
	"github.com/orca-control/orca-go/pkg/session"
	"github.com/orca-control/orca-go/pkg/transport"
	"github.com/orca-control/orca-go/pkg/tree"
	"github.com/orca-control/orca-go/pkg/wire"
)

// CamerasBranch is the top-level branch holding every camera.
const CamerasBranch = "cameras"

// DialFunc opens a link to one camera. Used by tests to bypass sockets.
type DialFunc func(name, endpoint string) (session.Link, error)

// Config configures a Fleet.
type Config struct {
	// Endpoints and Names are parallel lists; camera i is Names[i] at
	// Endpoints[i].
	Endpoints []string
	Names     []string

	// Count is the number of cameras to manage (default: len(Endpoints)).
	// Both lists must have at least Count entries; extra entries are
	// ignored.
	Count int

	// PollEnabled starts every camera's poller after discovery.
	PollEnabled bool

	// PollInterval is the initial poll interval (default: 1s).
	PollInterval time.Duration

	// FailureCeiling halts a poller after this many consecutive failures
	// (default: 10, valid 10-20).
	FailureCeiling int

	// Codec encodes messages (default: wire.JSON).
	Codec wire.Codec

	// Timeout and ConnectTimeout bound requests (defaults: 1s, 5s).
	Timeout        time.Duration
	ConnectTimeout time.Duration

	// Link options for every camera link.
	Link transport.LinkConfig

	// Dial replaces the transport link (tests).
	Dial DialFunc

	// Logger receives operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger receives capture events (optional).
	ProtocolLogger log.Logger
}

// Fleet is an ordered set of cameras.
type Fleet struct {
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	cameras []*camera.Camera
	closed  bool

	// reconnectMu serialises fleet-wide Reconnect.
	reconnectMu sync.Mutex
}

// Validate checks cfg without opening anything.
func (cfg *Config) Validate() error {
	count := cfg.Count
	if count < 0 {
		return &ConfigError{Field: "count", Reason: fmt.Sprintf("must not be negative, got %d", count)}
	}
	if count == 0 {
		count = len(cfg.Endpoints)
	}
	if count == 0 {
		return &ConfigError{Field: "endpoints", Reason: "no camera endpoints configured"}
	}
	if len(cfg.Endpoints) < count {
		return &ConfigError{Field: "endpoints", Reason: fmt.Sprintf("%d configured, %d cameras requested", len(cfg.Endpoints), count)}
	}
	if len(cfg.Names) < count {
		return &ConfigError{Field: "names", Reason: fmt.Sprintf("%d configured, %d cameras requested", len(cfg.Names), count)}
	}

	seen := make(map[string]bool, count)
	for i := 0; i < count; i++ {
		name := cfg.Names[i]
		if name == "" || strings.Contains(name, "/") {
			return &ConfigError{Field: "names", Reason: fmt.Sprintf("invalid camera name %q", name)}
		}
		if seen[name] {
			return &ConfigError{Field: "names", Reason: fmt.Sprintf("duplicate camera name %q", name)}
		}
		seen[name] = true

		if _, err := transport.ParseEndpoint(cfg.Endpoints[i]); err != nil {
			return &ConfigError{Field: "endpoints", Reason: "camera " + name, Err: err}
		}
	}

	if cfg.PollInterval < 0 {
		return &ConfigError{Field: "poll_interval", Reason: "must be positive", Err: poller.ErrInvalidInterval}
	}
	if c := cfg.FailureCeiling; c != 0 && (c < poller.MinCeiling || c > poller.MaxCeiling) {
		return &ConfigError{Field: "failure_ceiling", Reason: fmt.Sprintf("%d not in [%d, %d]", c, poller.MinCeiling, poller.MaxCeiling), Err: poller.ErrInvalidCeiling}
	}
	return nil
}

// New validates cfg and then creates, discovers and starts every camera.
// A configuration error is returned before any link is opened. Unreachable
// cameras are not an error: they get a minimal tree and can be reconnected.
func New(ctx context.Context, cfg Config) (*Fleet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Count == 0 {
		cfg.Count = len(cfg.Endpoints)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	f := &Fleet{
		config: cfg,
		logger: cfg.Logger.With("component", "fleet"),
	}

	cameras, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	f.cameras = cameras
	f.logger.Info("fleet ready", "cameras", len(cameras))
	return f, nil
}

// connect creates every camera in order. On failure the cameras already
// created are closed.
func (f *Fleet) connect(ctx context.Context) ([]*camera.Camera, error) {
	cfg := f.config
	cameras := make([]*camera.Camera, 0, cfg.Count)

	for i := 0; i < cfg.Count; i++ {
		name, endpoint := cfg.Names[i], cfg.Endpoints[i]

		var dial session.DialFunc
		if cfg.Dial != nil {
			dial = func() (session.Link, error) { return cfg.Dial(name, endpoint) }
		}

		cam, err := camera.New(ctx, camera.Config{
			Name:           name,
			Endpoint:       endpoint,
			PollEnabled:    cfg.PollEnabled,
			PollInterval:   cfg.PollInterval,
			FailureCeiling: cfg.FailureCeiling,
			Codec:          cfg.Codec,
			Timeout:        cfg.Timeout,
			ConnectTimeout: cfg.ConnectTimeout,
			Link:           cfg.Link,
			Dial:           dial,
			OnRebuild:      f.onRebuild,
			Logger:         cfg.Logger,
			ProtocolLogger: cfg.ProtocolLogger,
		})
		if err != nil {
			for _, c := range cameras {
				c.Close()
			}
			return nil, fmt.Errorf("camera %s: %w", name, err)
		}

		f.logger.Info("camera registered", "device", name, "endpoint", endpoint, "connected", cam.Connected())
		cameras = append(cameras, cam)
	}
	return cameras, nil
}

func (f *Fleet) onRebuild(name string) {
	f.logger.Info("camera tree rebuilt", "device", name)
}

// Names returns the camera names in configuration order.
func (f *Fleet) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, len(f.cameras))
	for i, c := range f.cameras {
		names[i] = c.Name()
	}
	return names
}

// Camera returns a camera by name.
func (f *Fleet) Camera(name string) (*camera.Camera, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.cameras {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Root returns the fleet tree. It is composed from every camera's current
// tree, so a rebuilt camera tree is visible immediately.
func (f *Fleet) Root() (*tree.Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}

	cams := tree.NewBranch()
	for _, c := range f.cameras {
		cams.Add(c.Name(), c.Tree())
	}
	return tree.NewBranch().Add(CamerasBranch, cams), nil
}

// Get reads path. The empty path returns the whole tree as nested maps.
func (f *Fleet) Get(path string) (any, error) {
	root, err := f.Root()
	if err != nil {
		return nil, err
	}
	return root.Get(path)
}

// Set writes value at path. Path problems come back as *tree.PathError
// (tree.ErrNotFound, tree.ErrReadOnly, tree.ErrInvalidValue); a camera that
// fails the write comes back as *DeviceError.
func (f *Fleet) Set(ctx context.Context, path string, value any) error {
	root, err := f.Root()
	if err != nil {
		return err
	}

	err = root.Set(ctx, path, value)
	if err == nil {
		return nil
	}

	var pe *tree.PathError
	switch {
	case errors.As(err, &pe):
		return err
	case errors.Is(err, tree.ErrInvalidValue):
		return &tree.PathError{Op: "set", Path: path, Err: err}
	}

	de := &DeviceError{Camera: cameraOf(path), Path: path, Err: err}
	f.logger.Warn("set failed", "device", de.Camera, "path", path, "error", err)
	return de
}

// cameraOf returns the camera name in a cameras/<name>/... path.
func cameraOf(path string) string {
	parts := tree.SplitPath(path)
	if len(parts) >= 2 && parts[0] == CamerasBranch {
		return parts[1]
	}
	return ""
}

// Reconnect reconnects every camera in order. Each camera is attempted even
// when an earlier one fails; the failures are joined.
func (f *Fleet) Reconnect(ctx context.Context) error {
	f.reconnectMu.Lock()
	defer f.reconnectMu.Unlock()

	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return ErrClosed
	}
	cameras := append([]*camera.Camera(nil), f.cameras...)
	f.mu.RUnlock()

	var errs []error
	for _, c := range cameras {
		if err := c.Reconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Cleanup stops every poller and closes every link. Cleanup is idempotent.
func (f *Fleet) Cleanup() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	cameras := f.cameras
	f.mu.Unlock()

	for _, c := range cameras {
		if err := c.Close(); err != nil {
			f.logger.Debug("close failed", "device", c.Name(), "error", err)
		}
	}
	f.logger.Info("fleet closed", "cameras", len(cameras))
}
