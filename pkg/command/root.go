// Package command defines the rbdsnap command line with urfave/cli/v2.
//
// Without a subcommand rbdsnap rotates, so the cron lines of the old
// script keep working:
//
//	0 22 * * * rbdsnap --pool rbd-pool1 --image test-image --suffix DAILY --n_keep 10
//
// Snapshots the old script named <counter>_rbd_snap_manager_<suffix> join
// the suffix group and are pruned oldest first with the new ones.
package command

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/juju/clock"
	"github.com/pixperk/rbdsnap/pkg/ceph"
	"github.com/pixperk/rbdsnap/pkg/rbd"
	"github.com/pixperk/rbdsnap/pkg/store"
	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// SnapshotBackend is what the commands need from the snapshot backend.
type SnapshotBackend interface {
	rbd.Backend
	rbd.PoolValidator
}

// Deps replaces the real collaborators, nil fields use the defaults.
type Deps struct {
	Stdout io.Writer
	Stderr io.Writer
	Clock  clock.Clock
	Logger hclog.Logger
	Runner ceph.Runner

	// used instead of opening store.backend or talking to rbd
	Store   store.Store
	Backend SnapshotBackend
}

func (d *Deps) defaults() {
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	if d.Stderr == nil {
		d.Stderr = os.Stderr
	}
	if d.Clock == nil {
		d.Clock = clock.WallClock
	}
}

// App creates the CLI application.
func App(deps Deps) *cli.App {
	deps.defaults()

	return &cli.App{
		Name:      "rbdsnap",
		Usage:     "rotate RBD snapshots under a distributed lock",
		Version:   fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:     targetFlags(),
		Writer:    deps.Stdout,
		ErrWriter: deps.Stderr,
		Action:    rotateAction(deps),
		Commands: []*cli.Command{
			RotateCommand(deps),
			PlanCommand(deps),
			ListCommand(deps),
			LockCommand(deps),
		},
	}
}

// targetFlags are accepted before and after the subcommand. Flag names
// match the old cron script.
func targetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"RBDSNAP_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "pool",
			Usage: "Ceph pool of the image",
		},
		&cli.StringFlag{
			Name:  "image",
			Usage: "RBD image to snapshot",
		},
		&cli.StringFlag{
			Name:  "suffix",
			Usage: "snapshot group, e.g. DAILY or WEEKLY; retention is per suffix",
		},
		&cli.IntFlag{
			Name:  "n_keep",
			Usage: "how many snapshots with this suffix to keep",
		},
		&cli.BoolFlag{
			Name:  "dryrun",
			Usage: "log what would be done, implies --debug",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "log at debug level to stdout instead of syslog",
		},
		&cli.StringFlag{
			Name:  "store",
			Usage: "lock store backend: ceph, etcd, redis, bolt or memory",
		},
		&cli.DurationFlag{
			Name:  "lease",
			Usage: "lock lease, a crashed run blocks the image at most this long",
		},
		&cli.DurationFlag{
			Name:  "jitter",
			Usage: "wait a random time up to this before starting",
		},
	}
}

// flag name -> config key
var flagKeys = map[string]string{
	"pool":   "pool",
	"image":  "image",
	"suffix": "suffix",
	"n_keep": "keep",
	"dryrun": "dry_run",
	"debug":  "debug",
	"store":  "store.backend",
	"lease":  "lock.lease",
	"jitter": "jitter",
}

// lookup finds a flag set on the command line, the innermost command wins
func lookup(c *cli.Context, name string) (any, bool) {
	for _, ctx := range c.Lineage() {
		if ctx.Command == nil && ctx.App == nil {
			continue
		}
		if ctx.IsSet(name) {
			return ctx.Value(name), true
		}
	}
	return nil, false
}
