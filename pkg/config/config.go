// Package config loads the rbdsnap configuration with koanf.
//
// Sources in increasing priority: built-in defaults, a YAML file,
// RBDSNAP_ environment variables and command line flags.
package config

import (
	"fmt"
	"time"

	"github.com/pixperk/rbdsnap/pkg/ceph"
	"github.com/pixperk/rbdsnap/pkg/lock"
	"github.com/pixperk/rbdsnap/pkg/rotation"
	"github.com/pixperk/rbdsnap/pkg/store"
	"github.com/pixperk/rbdsnap/pkg/types"
)

// keepUnset marks a retention count nobody configured
const keepUnset = -1

type Config struct {
	Pool   string        `koanf:"pool"`
	Image  string        `koanf:"image"`
	Suffix string        `koanf:"suffix"`
	Keep   int           `koanf:"keep"`
	DryRun bool          `koanf:"dry_run"`
	Debug  bool          `koanf:"debug"`
	Jitter time.Duration `koanf:"jitter"`

	Lock     LockConfig     `koanf:"lock"`
	Snapshot SnapshotConfig `koanf:"snapshot"`
	Store    StoreConfig    `koanf:"store"`
	Ceph     CephConfig     `koanf:"ceph"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

type LockConfig struct {
	Prefix string        `koanf:"prefix"`
	Lease  time.Duration `koanf:"lease"`
}

type SnapshotConfig struct {
	Prefix string `koanf:"prefix"`
}

type StoreConfig struct {
	Backend string `koanf:"backend"`
	Bolt    struct {
		Path    string        `koanf:"path"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"bolt"`
	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`
	Etcd struct {
		Endpoints   []string      `koanf:"endpoints"`
		DialTimeout time.Duration `koanf:"dial_timeout"`
		Username    string        `koanf:"username"`
		Password    string        `koanf:"password"`
	} `koanf:"etcd"`
	Ceph struct {
		Pool string `koanf:"pool"`
	} `koanf:"ceph"`
}

type CephConfig struct {
	Binary      string `koanf:"binary"`
	RadosBinary string `koanf:"rados_binary"`
	RBDBinary   string `koanf:"rbd_binary"`
	Conf        string `koanf:"conf"`
	ID          string `koanf:"id"`
}

type MetricsConfig struct {
	Textfile    string `koanf:"textfile"`
	Pushgateway string `koanf:"pushgateway"`
	Job         string `koanf:"job"`
}

func defaults() map[string]any {
	return map[string]any{
		"keep":    keepUnset,
		"dry_run": false,
		"debug":   false,
		"jitter":  "0s",
		"lock": map[string]any{
			"prefix": lock.DefaultPrefix,
			"lease":  "1h",
		},
		"snapshot": map[string]any{
			"prefix": rotation.DefaultPrefix,
		},
		"store": map[string]any{
			"backend": store.BackendCeph,
			"bolt": map[string]any{
				"path":    "/var/lib/rbdsnap/locks.db",
				"timeout": "5s",
			},
			"redis": map[string]any{
				"addr": "localhost:6379",
				"db":   0,
			},
			"etcd": map[string]any{
				"endpoints":    []string{"localhost:2379"},
				"dial_timeout": "5s",
			},
		},
		"ceph": map[string]any{
			"binary":       "ceph",
			"rados_binary": "rados",
			"rbd_binary":   "rbd",
		},
		"metrics": map[string]any{
			"job": "rbdsnap",
		},
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the settings a rotation run needs.
func (c *Config) Validate() error {
	if c.Pool == "" {
		return invalid("pool is required")
	}
	if c.Image == "" {
		return invalid("image is required")
	}
	if err := c.ValidateTarget(); err != nil {
		return err
	}
	if c.Keep == keepUnset {
		return invalid("n_keep is required")
	}
	if c.Keep < 0 {
		return invalid("n_keep must be >= 0, got %d", c.Keep)
	}
	if c.Jitter < 0 {
		return invalid("jitter must not be negative")
	}
	if c.Store.Backend == store.BackendMemory && !c.DryRun {
		return invalid("store.backend %q does not exclude other processes, only dry runs may use it", store.BackendMemory)
	}
	return nil
}

// ValidateTarget checks the parts shared by every command that works on a
// suffix group.
func (c *Config) ValidateTarget() error {
	if err := rotation.ValidateSuffix(c.Suffix); err != nil {
		return invalid("%v", err)
	}
	if c.Lock.Lease <= 0 {
		return invalid("lock.lease must be positive, got %s", c.Lock.Lease)
	}
	switch c.Store.Backend {
	case store.BackendMemory, store.BackendBolt, store.BackendRedis, store.BackendEtcd, store.BackendCeph:
	default:
		return invalid("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}

func (c *Config) Target() types.Target {
	return types.Target{Pool: c.Pool, Image: c.Image, Suffix: c.Suffix}
}

func (c *Config) StoreConfig() store.Config {
	//lock objects live next to the image unless a pool is configured
	cephPool := c.Store.Ceph.Pool
	if cephPool == "" {
		cephPool = c.Pool
	}
	return store.Config{
		Backend: c.Store.Backend,
		Bolt: store.BoltConfig{
			Path:    c.Store.Bolt.Path,
			Timeout: c.Store.Bolt.Timeout,
		},
		Redis: store.RedisConfig{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
		},
		Etcd: store.EtcdConfig{
			Endpoints:   c.Store.Etcd.Endpoints,
			DialTimeout: c.Store.Etcd.DialTimeout,
			Username:    c.Store.Etcd.Username,
			Password:    c.Store.Etcd.Password,
		},
		Ceph: store.CephConfig{Pool: cephPool},
	}
}

func (c *Config) CephConfig() ceph.Config {
	return ceph.Config{
		CephBinary:  c.Ceph.Binary,
		RadosBinary: c.Ceph.RadosBinary,
		RBDBinary:   c.Ceph.RBDBinary,
		ConfPath:    c.Ceph.Conf,
		ClientID:    c.Ceph.ID,
	}
}
