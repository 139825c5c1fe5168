package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/rbdsnap/pkg/ceph"
)

// lock name and tag every rbdsnap cls_lock carries
const radosLockName = "rbdsnap"

type CephConfig struct {
	// pool holding the lock objects
	Pool string
}

// CephStore keeps each key as an exclusive cls_lock on a RADOS object named
// after the key. The stored value travels as the lock cookie.
//
// The OSD applies lock get and lock break atomically: a second exclusive
// lock get on a held object fails with EBUSY, and a break only removes the
// locker whose cookie matches. A positive ttl becomes the lock duration, so
// the OSD drops the lock once it elapses.
type CephStore struct {
	ceph   *ceph.Client
	pool   string
	logger hclog.Logger
}

func NewCeph(client *ceph.Client, cfg CephConfig, logger hclog.Logger) (*CephStore, error) {
	if cfg.Pool == "" {
		return nil, fmt.Errorf("ceph store requires a pool")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &CephStore{ceph: client, pool: cfg.Pool, logger: logger}, nil
}

func encodeCookie(value string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(value))
}

func decodeCookie(cookie string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cookie)
	if err != nil {
		return "", fmt.Errorf("decode lock cookie: %w", err)
	}
	return string(raw), nil
}

func lockSeconds(ttl time.Duration) string {
	return strconv.FormatInt(int64(math.Ceil(ttl.Seconds())), 10)
}

func (c *CephStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	args := []string{"-p", c.pool, "lock", "get", key, radosLockName,
		"--lock-cookie", encodeCookie(value),
		"--lock-tag", radosLockName,
	}
	if ttl > 0 {
		args = append(args, "--lock-duration", lockSeconds(ttl))
	}

	if _, err := c.ceph.Rados(ctx, args...); err != nil {
		if ceph.IsBusy(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// output of `rados lock info`
type radosLockInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Tag     string `json:"tag"`
	Lockers []struct {
		Name       string `json:"name"`
		Cookie     string `json:"cookie"`
		Expiration string `json:"expiration"`
		Addr       string `json:"addr"`
	} `json:"lockers"`
}

type radosLocker struct {
	entity string
	cookie string
}

// holder returns the locker holding key, if any
func (c *CephStore) holder(ctx context.Context, key string) (radosLocker, bool, error) {
	out, err := c.ceph.Rados(ctx, "-p", c.pool, "lock", "info", key, radosLockName, "--format", "json")
	if err != nil {
		if ceph.IsNotFound(err) {
			return radosLocker{}, false, nil
		}
		return radosLocker{}, false, err
	}

	var info radosLockInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return radosLocker{}, false, fmt.Errorf("parse rados lock info: %w", err)
	}
	if len(info.Lockers) == 0 {
		return radosLocker{}, false, nil
	}
	l := info.Lockers[0]
	return radosLocker{entity: l.Name, cookie: l.Cookie}, true, nil
}

func (c *CephStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	holder, ok, err := c.holder(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	cookie := encodeCookie(expected)
	if holder.cookie != cookie {
		return false, nil
	}

	//the break names the exact locker, so a newer holder survives it
	c.logger.Debug("breaking lock", "key", key, "locker", holder.entity)
	_, err = c.ceph.Rados(ctx, "-p", c.pool, "lock", "break", key, radosLockName, holder.entity,
		"--lock-cookie", cookie)
	if err != nil {
		if ceph.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *CephStore) Get(ctx context.Context, key string) (string, bool, error) {
	holder, ok, err := c.holder(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	value, err := decodeCookie(holder.cookie)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *CephStore) Close() error { return nil }
