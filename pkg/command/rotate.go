package command

import (
	"context"
	"fmt"

	"github.com/pixperk/rbdsnap/pkg/job"
	"github.com/pixperk/rbdsnap/pkg/metrics"
	"github.com/urfave/cli/v2"
)

func RotateCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:   "rotate",
		Usage:  "create a snapshot and prune the suffix group to n_keep (default command)",
		Flags:  targetFlags(),
		Action: rotateAction(deps),
	}
}

func rotateAction(deps Deps) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx := c.Context
		rt, err := newRuntime(ctx, c, deps, validateRotate)
		if err != nil {
			return err
		}
		defer rt.Close()

		target := rt.cfg.Target()
		m := metrics.New(target)
		j := job.New(rt.locks, rt.engine,
			job.WithClock(deps.Clock),
			job.WithLogger(rt.logger),
			job.WithPoolValidator(rt.backend),
			job.WithMetrics(m),
		)

		out, err := j.Run(ctx, job.Params{
			Target: target,
			Keep:   rt.cfg.Keep,
			Lease:  rt.cfg.Lock.Lease,
			Jitter: rt.cfg.Jitter,
		})
		exportMetrics(ctx, rt, m)
		if err != nil {
			return fmt.Errorf("rotate %s: %w", target, err)
		}
		if out.Busy != nil {
			rt.logger.Debug("another run holds the lock", "reason", out.Busy)
		}
		return nil
	}
}

// exportMetrics writes the run's metrics where configured. Export failures
// never fail the run.
func exportMetrics(ctx context.Context, rt *runtime, m *metrics.Metrics) {
	mc := rt.cfg.Metrics
	if mc.Textfile != "" {
		if err := m.WriteTextfile(mc.Textfile); err != nil {
			rt.logger.Warn("failed to write metrics", "error", err)
		}
	}
	if mc.Pushgateway != "" {
		if err := m.Push(ctx, mc.Pushgateway, mc.Job); err != nil {
			rt.logger.Warn("failed to push metrics", "error", err)
		}
	}
}
