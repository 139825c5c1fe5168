package command

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/rbdsnap/pkg/ceph"
	"github.com/pixperk/rbdsnap/pkg/config"
	"github.com/pixperk/rbdsnap/pkg/lock"
	"github.com/pixperk/rbdsnap/pkg/logging"
	"github.com/pixperk/rbdsnap/pkg/rbd"
	"github.com/pixperk/rbdsnap/pkg/rotation"
	"github.com/pixperk/rbdsnap/pkg/store"
	"github.com/urfave/cli/v2"
)

// runtime is everything one command invocation works with
type runtime struct {
	cfg     *config.Config
	logger  hclog.Logger
	store   store.Store
	backend SnapshotBackend
	locks   *lock.Manager
	engine  *rotation.Engine
	owned   bool
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var file string
	if v, ok := lookup(c, "config"); ok {
		file, _ = v.(string)
	}

	l := config.NewLoader(config.WithFile(file))
	if err := l.Load(); err != nil {
		return nil, err
	}
	for name, key := range flagKeys {
		v, ok := lookup(c, name)
		if !ok {
			continue
		}
		if err := l.Set(key, v); err != nil {
			return nil, fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return l.Config()
}

// newRuntime loads the configuration, runs validate on it and wires the
// store, the backend, the lock manager and the rotation engine.
func newRuntime(ctx context.Context, c *cli.Context, deps Deps, validate func(*config.Config) error) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.New(logging.Options{Debug: cfg.Debug, DryRun: cfg.DryRun, Stdout: deps.Stdout, Stderr: deps.Stderr})
	}

	runner := deps.Runner
	if runner == nil {
		runner = ceph.NewExecRunner(logger.Named("exec"))
	}
	client := ceph.NewClient(runner, cfg.CephConfig())

	rt := &runtime{cfg: cfg, logger: logger, store: deps.Store, backend: deps.Backend}
	if rt.store == nil {
		rt.store, err = store.Open(ctx, cfg.StoreConfig(), store.Deps{Ceph: client, Clock: deps.Clock, Logger: logger})
		if err != nil {
			return nil, err
		}
		rt.owned = true
	}
	if rt.backend == nil {
		rt.backend = rbd.NewCLI(client, deps.Clock)
	}

	rt.locks = lock.NewManager(rt.store,
		lock.WithClock(deps.Clock),
		lock.WithLogger(logger.Named("lock")),
		lock.WithPrefix(cfg.Lock.Prefix),
	)
	rt.engine = rotation.NewEngine(rt.backend,
		rotation.WithClock(deps.Clock),
		rotation.WithLogger(logger.Named("rotation")),
		rotation.WithPrefix(cfg.Snapshot.Prefix),
		rotation.WithDryRun(cfg.DryRun),
	)
	return rt, nil
}

func (rt *runtime) Close() {
	if !rt.owned {
		return
	}
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("failed to close store", "error", err)
	}
}

// validators for the different commands

func validateRotate(cfg *config.Config) error {
	return cfg.Validate()
}

func validateImage(cfg *config.Config) error {
	if cfg.Pool == "" || cfg.Image == "" {
		return invalidf("--pool and --image are required")
	}
	if cfg.Lock.Lease <= 0 {
		return invalidf("lock.lease must be positive")
	}
	return nil
}

func validateGroup(cfg *config.Config) error {
	if err := validateImage(cfg); err != nil {
		return err
	}
	return cfg.ValidateTarget()
}
