package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/orca-control/orca-go/pkg/session"
	"github.com/orca-control/orca-go/pkg/tree"
)

// Attribute names.
const (
	AttrCameraName     = "camera_name"
	AttrEndpoint       = "endpoint"
	AttrCommand        = "command"
	AttrConfig         = "config"
	AttrStatus         = "status"
	AttrConnection     = "connection"
	AttrConnected      = "connected"
	AttrReconnect      = "reconnect"
	AttrFailures       = "failures"
	AttrBackgroundTask = "background_task"
	AttrInterval       = "interval"
	AttrEnable         = "enable"
	AttrState          = "state"
)

// Backend is what tree leaves read from and write to.
// Implemented by Camera.
type Backend interface {
	ConfigValue(key string) (any, bool)
	StatusValue(key string) (any, bool)
	Configure(ctx context.Context, key string, value any) error
	Command(ctx context.Context, verb string) error

	Connected() bool
	Failures() int
	Reconnect(ctx context.Context) error

	PollInterval() time.Duration
	SetPollInterval(d time.Duration) error
	PollEnabled() bool
	SetPollEnabled(enable bool)
	PollState() string
}

// TreeSpec is the discovered shape of one camera.
type TreeSpec struct {
	Name     string
	Endpoint string
	Config   session.Snapshot
	Status   session.Snapshot
}

// BuildTree builds a camera's attribute tree. It performs no I/O: leaves
// read and write through b when accessed. Only the key sets of the
// snapshots matter; values are always read live.
func BuildTree(spec TreeSpec, b Backend) *tree.Node {
	root := tree.NewBranch().
		Add(AttrCameraName, tree.Constant(spec.Name)).
		Add(AttrEndpoint, tree.Constant(spec.Endpoint)).
		Add(AttrCommand, tree.WriteOnly(func(ctx context.Context, v any) error {
			verb, err := tree.ToString(v)
			if err != nil {
				return err
			}
			return b.Command(ctx, verb)
		}))

	if len(spec.Config) > 0 {
		config := tree.NewBranch()
		for _, key := range spec.Config.Keys() {
			config.Add(key, configLeaf(key, b))
		}
		root.Add(AttrConfig, config)
	}

	status := tree.NewBranch()
	for _, key := range spec.Status.Keys() {
		status.Add(key, statusLeaf(key, b))
	}
	root.Add(AttrStatus, status)

	root.Add(AttrConnection, tree.NewBranch().
		Add(AttrConnected, tree.ReadOnly(func() any { return b.Connected() })).
		Add(AttrReconnect, tree.WriteOnly(func(ctx context.Context, _ any) error {
			return b.Reconnect(ctx)
		})).
		Add(AttrFailures, tree.ReadOnly(func() any { return b.Failures() })))

	root.Add(AttrBackgroundTask, tree.NewBranch().
		Add(AttrInterval, tree.Leaf(
			func() any { return b.PollInterval().Seconds() },
			func(_ context.Context, v any) error {
				secs, err := tree.ToFloat(v)
				if err != nil {
					return err
				}
				if secs <= 0 {
					return fmt.Errorf("%w: interval must be positive, got %v", tree.ErrInvalidValue, v)
				}
				return b.SetPollInterval(time.Duration(secs * float64(time.Second)))
			})).
		Add(AttrEnable, tree.Leaf(
			func() any { return b.PollEnabled() },
			func(_ context.Context, v any) error {
				enable, err := tree.ToBool(v)
				if err != nil {
					return err
				}
				b.SetPollEnabled(enable)
				return nil
			})).
		Add(AttrState, tree.ReadOnly(func() any { return b.PollState() })))

	return root
}

// configLeaf and statusLeaf take key as a parameter so each closure binds
// its own key.
func configLeaf(key string, b Backend) *tree.Node {
	return tree.Leaf(
		func() any {
			v, _ := b.ConfigValue(key)
			return v
		},
		func(ctx context.Context, v any) error {
			return b.Configure(ctx, key, v)
		})
}

func statusLeaf(key string, b Backend) *tree.Node {
	return tree.ReadOnly(func() any {
		v, _ := b.StatusValue(key)
		return v
	})
}
