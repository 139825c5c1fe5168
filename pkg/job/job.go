// Package job runs one locked rotation of a suffix group: jitter, pool check,
// lock, rotate, release, then record the outcome in the run's metrics.
package job

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/juju/clock"
	"github.com/pixperk/rbdsnap/pkg/lock"
	"github.com/pixperk/rbdsnap/pkg/metrics"
	"github.com/pixperk/rbdsnap/pkg/rbd"
	"github.com/pixperk/rbdsnap/pkg/rotation"
	"github.com/pixperk/rbdsnap/pkg/types"
)

type Params struct {
	Target types.Target
	Keep   int
	Lease  time.Duration

	// upper bound of the random delay before the run starts, 0 disables it
	Jitter time.Duration
}

type Outcome struct {
	// metrics.ResultSuccess, ResultSkipped or ResultFailed
	Result  string
	Plan    types.Plan
	Applied rotation.Result

	// set when the run was skipped because another process holds the lock
	Busy error
}

type Job struct {
	locks   *lock.Manager
	engine  *rotation.Engine
	pools   rbd.PoolValidator
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  hclog.Logger
	randN   func(n int64) int64
}

type Option func(*Job)

func WithClock(clk clock.Clock) Option {
	return func(j *Job) { j.clock = clk }
}

func WithLogger(logger hclog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// WithPoolValidator checks the pool before anything is written.
func WithPoolValidator(v rbd.PoolValidator) Option {
	return func(j *Job) { j.pools = v }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

// WithRandom replaces the jitter source, it must return a value in [0, n).
func WithRandom(fn func(n int64) int64) Option {
	return func(j *Job) { j.randN = fn }
}

func New(locks *lock.Manager, engine *rotation.Engine, opts ...Option) *Job {
	j := &Job{
		locks:  locks,
		engine: engine,
		clock:  clock.WallClock,
		logger: hclog.NewNullLogger(),
		randN:  rand.Int63n,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.metrics == nil {
		j.metrics = metrics.New(types.Target{})
	}
	return j
}

func (j *Job) sleepJitter(ctx context.Context, limit time.Duration) error {
	if limit <= 0 {
		return nil
	}
	d := time.Duration(j.randN(int64(limit)))
	j.logger.Debug("waiting before start", "delay", d)

	select {
	case <-j.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// leaseMargin is how long before the lease ends a rotation is cut off
func leaseMargin(lease time.Duration) time.Duration {
	return min(lease/10, time.Minute)
}

// withinLease derives a context that is cancelled with ErrLeaseExpired
// shortly before the lease of handle runs out. Another process may take the
// lock over once it does.
func (j *Job) withinLease(ctx context.Context, handle *types.LockHandle) (context.Context, context.CancelFunc) {
	rec := handle.Record
	budget := rec.ExpiresAt.Sub(j.clock.Now()) - leaseMargin(rec.ExpiresAt.Sub(rec.AcquiredAt))

	lctx, cancel := context.WithCancelCause(ctx)
	if budget <= 0 {
		cancel(types.ErrLeaseExpired)
		return lctx, func() {}
	}

	timer := j.clock.NewTimer(budget)
	go func() {
		select {
		case <-timer.Chan():
			cancel(types.ErrLeaseExpired)
		case <-lctx.Done():
		}
	}()
	return lctx, func() {
		timer.Stop()
		cancel(context.Canceled)
	}
}

// Run performs one rotation. Losing the lock to a live holder is not an
// error: the outcome is ResultSkipped and nothing is changed.
func (j *Job) Run(ctx context.Context, p Params) (out Outcome, err error) {
	start := j.clock.Now()
	logger := j.logger.With("pool", p.Target.Pool, "image", p.Target.Image, "suffix", p.Target.Suffix)

	defer func() {
		if err != nil {
			out.Result = metrics.ResultFailed
		}
		j.metrics.RunsTotal.WithLabelValues(out.Result).Inc()
		j.metrics.RunDuration.Observe(j.clock.Now().Sub(start).Seconds())
	}()

	if err := j.sleepJitter(ctx, p.Jitter); err != nil {
		return out, err
	}

	if j.pools != nil {
		if err := j.pools.ValidatePool(ctx, p.Target.Pool); err != nil {
			return out, err
		}
	}

	handle, err := j.locks.Acquire(ctx, p.Target.Pool, p.Target.Image, p.Lease)
	switch {
	case errors.Is(err, types.ErrLockBusy):
		j.metrics.LockAcquireTotal.WithLabelValues(metrics.LockBusy).Inc()
		logger.Info("lock present, skipping run", "reason", err)
		out.Result = metrics.ResultSkipped
		out.Busy = err
		return out, nil
	case err != nil:
		j.metrics.LockAcquireTotal.WithLabelValues(metrics.LockError).Inc()
		return out, fmt.Errorf("acquire lock: %w", err)
	}
	j.metrics.LockAcquireTotal.WithLabelValues(metrics.LockAcquired).Inc()

	defer func() {
		//release even when the run was cancelled
		relErr := j.locks.Release(context.WithoutCancel(ctx), handle)
		if relErr != nil {
			logger.Error("failed to release lock, it will expire with its lease", "error", relErr)
			err = errors.Join(err, relErr)
		}
	}()

	rctx, cancel := j.withinLease(ctx, handle)
	defer cancel()

	plan, res, err := j.engine.Rotate(rctx, p.Target, p.Keep)
	if err != nil && errors.Is(context.Cause(rctx), types.ErrLeaseExpired) {
		err = fmt.Errorf("%w: %w", types.ErrLeaseExpired, err)
	}
	out.Plan = plan
	out.Applied = res
	if res.Created != nil {
		j.metrics.SnapshotsCreated.Inc()
	}
	j.metrics.SnapshotsDeleted.Add(float64(len(res.Deleted)))
	if err != nil {
		logger.Error("rotation failed", "error", err)
		return out, err
	}

	if !res.DryRun {
		j.metrics.GroupSnapshots.Set(float64(plan.ResultingSize()))
		j.metrics.LastSuccess.Set(float64(j.clock.Now().Unix()))
	}
	out.Result = metrics.ResultSuccess
	logger.Info("rotation done", "created", plan.Create, "deleted", len(res.Deleted), "kept", plan.ResultingSize())
	return out, nil
}
