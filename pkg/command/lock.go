package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/pixperk/rbdsnap/pkg/types"

	"github.com/urfave/cli/v2"
)

func LockCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "lock",
		Usage: "inspect or remove the lock of an image",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "print the current lock holder",
				Flags:  targetFlags(),
				Action: lockShowAction(deps),
			},
			{
				Name:  "break",
				Usage: "remove an expired lock, or any lock with --force",
				Flags: append(targetFlags(), &cli.BoolFlag{
					Name:  "force",
					Usage: "remove the lock even if its lease is still running",
				}),
				Action: lockBreakAction(deps),
			},
		},
	}
}

func lockShowAction(deps Deps) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := newRuntime(c.Context, c, deps, validateImage)
		if err != nil {
			return err
		}
		defer rt.Close()

		key := rt.locks.Key(rt.cfg.Pool, rt.cfg.Image)
		rec, found, err := rt.locks.Inspect(c.Context, rt.cfg.Pool, rt.cfg.Image)
		if !found && err == nil {
			fmt.Fprintf(deps.Stdout, "%s: not locked\n", key)
			return nil
		}
		if err != nil {
			if found {
				fmt.Fprintf(deps.Stdout, "%s: unreadable lock record (%v)\n", key, err)
				return nil
			}
			return err
		}

		now := deps.Clock.Now()
		state := "live"
		if rec.IsExpired(now) {
			state = "expired"
		}
		fmt.Fprintf(deps.Stdout, "key:      %s\n", key)
		fmt.Fprintf(deps.Stdout, "owner:    %s\n", rec.Owner)
		fmt.Fprintf(deps.Stdout, "acquired: %s\n", rec.AcquiredAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(deps.Stdout, "expires:  %s (%s)\n", rec.ExpiresAt.UTC().Format(time.RFC3339), state)
		return nil
	}
}

func lockBreakAction(deps Deps) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := newRuntime(c.Context, c, deps, validateImage)
		if err != nil {
			return err
		}
		defer rt.Close()

		key := rt.locks.Key(rt.cfg.Pool, rt.cfg.Image)
		broken, err := rt.locks.Break(c.Context, rt.cfg.Pool, rt.cfg.Image, c.Bool("force"))
		if errors.Is(err, types.ErrLockBusy) {
			//not a clean exit here, the operator asked for the lock to go
			return fmt.Errorf("%v, use --force to remove it anyway", err)
		}
		if err != nil {
			return err
		}
		if broken {
			fmt.Fprintf(deps.Stdout, "%s: removed\n", key)
		} else {
			fmt.Fprintf(deps.Stdout, "%s: not locked\n", key)
		}
		return nil
	}
}
