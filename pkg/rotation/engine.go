// Package rotation decides which snapshots to create and which to prune for
// one suffix group and carries the decision out on the snapshot backend.
package rotation

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/juju/clock"
	"github.com/pixperk/rbdsnap/pkg/rbd"
	"github.com/pixperk/rbdsnap/pkg/types"
)

// Engine computes and applies rotation plans. It holds no state between
// runs; every plan is derived from what the backend reports.
type Engine struct {
	backend rbd.Backend
	clock   clock.Clock
	logger  hclog.Logger
	prefix  string
	dryRun  bool
}

type Option func(*Engine)

func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

func WithLogger(logger hclog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPrefix sets the snapshot name prefix, DefaultPrefix otherwise.
func WithPrefix(prefix string) Option {
	return func(e *Engine) { e.prefix = prefix }
}

// WithDryRun makes Apply log the plan instead of executing it.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) { e.dryRun = dryRun }
}

func NewEngine(backend rbd.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		clock:   clock.WallClock,
		logger:  hclog.NewNullLogger(),
		prefix:  DefaultPrefix,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Namer(suffix string) Namer {
	return NewNamer(e.prefix, suffix)
}

// Plan computes the rotation for a group. existing must only hold snapshots
// of the target's group; it is sorted oldest first before use.
//
// The plan always creates one snapshot. Once that snapshot is counted the
// oldest snapshots beyond keep are deleted. keep <= 0 keeps only the new one.
func (e *Engine) Plan(target types.Target, existing []types.Snapshot, keep int) (types.Plan, error) {
	group := append([]types.Snapshot(nil), existing...)
	sortOldestFirst(group)

	name, err := e.Namer(target.Suffix).Next(e.clock.Now(), group)
	if err != nil {
		return types.Plan{}, err
	}

	effective := keep
	if effective < 1 {
		effective = 1
	}

	plan := types.Plan{
		Target:   target,
		Keep:     keep,
		Create:   name,
		Existing: len(group),
	}
	if excess := len(group) + 1 - effective; excess > 0 {
		plan.Delete = group[:excess]
	}
	return plan, nil
}

// Result is what Apply actually did.
type Result struct {
	Created *types.Snapshot
	Deleted []types.Snapshot
	DryRun  bool
}

// Apply creates the new snapshot and then deletes the planned ones oldest
// first. The first backend failure stops the run; nothing already done is
// undone; the next run plans again from the backend's state.
func (e *Engine) Apply(ctx context.Context, plan types.Plan) (Result, error) {
	logger := e.logger.With("pool", plan.Pool, "image", plan.Image, "suffix", plan.Suffix)

	if e.dryRun {
		logger.Debug("dry run, would create snapshot", "snapshot", plan.Create)
		for _, s := range plan.Delete {
			logger.Debug("dry run, would remove snapshot", "snapshot", s.Name, "created", s.CreatedAt)
		}
		return Result{DryRun: true}, nil
	}

	var res Result

	created, err := e.backend.CreateSnapshot(ctx, plan.Pool, plan.Image, plan.Create)
	if err != nil {
		return res, fmt.Errorf("%w: create %s/%s@%s: %w", types.ErrBackend, plan.Pool, plan.Image, plan.Create, err)
	}
	res.Created = &created
	logger.Info("snapshot created", "snapshot", created.Name)

	for _, s := range plan.Delete {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.Protected {
			logger.Warn("removing protected snapshot, expect the backend to refuse", "snapshot", s.Name)
		}
		if err := e.backend.DeleteSnapshot(ctx, plan.Pool, plan.Image, s.Name); err != nil {
			return res, fmt.Errorf("%w: remove %s: %w", types.ErrBackend, s.Spec(), err)
		}
		res.Deleted = append(res.Deleted, s)
		logger.Info("snapshot removed", "snapshot", s.Name)
	}

	return res, nil
}

// List returns the target's group as the backend reports it, oldest first.
func (e *Engine) List(ctx context.Context, target types.Target) ([]types.Snapshot, error) {
	all, err := e.backend.ListSnapshots(ctx, target.Pool, target.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrBackend, err)
	}

	group := Group(all, e.Namer(target.Suffix))
	e.logger.Debug("found snapshots", "pool", target.Pool, "image", target.Image,
		"suffix", target.Suffix, "total", len(all), "group", len(group))
	return group, nil
}

// Preview plans the rotation of the target group from the backend's current
// state without changing anything.
func (e *Engine) Preview(ctx context.Context, target types.Target, keep int) (types.Plan, error) {
	group, err := e.List(ctx, target)
	if err != nil {
		return types.Plan{}, err
	}
	return e.Plan(target, group, keep)
}

// Rotate plans the rotation of the target group and applies it.
func (e *Engine) Rotate(ctx context.Context, target types.Target, keep int) (types.Plan, Result, error) {
	plan, err := e.Preview(ctx, target, keep)
	if err != nil {
		return types.Plan{}, Result{}, err
	}

	res, err := e.Apply(ctx, plan)
	return plan, res, err
}
