// Package store provides the coordination key/value stores the lock manager
// runs on. Every backend exposes the same three atomic primitives.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/juju/clock"
	"github.com/pixperk/rbdsnap/pkg/ceph"
)

// Store is a key/value store with the primitives needed for lease locking.
//
// PutIfAbsent writes value under key only when no live value exists and
// reports whether it did. A positive ttl lets the store drop the value on its
// own once the ttl elapses; backends without native expiry document how they
// treat it.
//
// CompareAndDelete removes key only when its current value equals expected and
// reports whether it did.
//
// Get returns the current value and whether one exists.
type Store interface {
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Close() error
}

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendEtcd   = "etcd"
	BackendCeph   = "ceph"
)

type Config struct {
	Backend string
	Bolt    BoltConfig
	Redis   RedisConfig
	Etcd    EtcdConfig
	Ceph    CephConfig
}

// Deps are the collaborators some backends need.
type Deps struct {
	Ceph   *ceph.Client
	Clock  clock.Clock
	Logger hclog.Logger
}

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config, deps Deps) (Store, error) {
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	logger := deps.Logger.Named("store")

	switch cfg.Backend {
	case BackendMemory:
		return NewMemory(deps.Clock), nil
	case BackendBolt:
		return NewBolt(cfg.Bolt, deps.Clock)
	case BackendRedis:
		return NewRedis(ctx, cfg.Redis)
	case BackendEtcd:
		return NewEtcd(cfg.Etcd, logger)
	case BackendCeph, "":
		if deps.Ceph == nil {
			return nil, fmt.Errorf("ceph store requires a ceph client")
		}
		return NewCeph(deps.Ceph, cfg.Ceph, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
