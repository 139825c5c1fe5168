// Package lock implements lease based mutual exclusion per (pool, image) on
// top of a coordination store.
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/juju/clock"
	"github.com/pixperk/rbdsnap/pkg/store"
	"github.com/pixperk/rbdsnap/pkg/types"
)

const DefaultPrefix = "rbd_snap_mgr"

// Manager acquires and releases lock records. It keeps no lock state of its
// own; the store is the only source of truth.
type Manager struct {
	store   store.Store
	clock   clock.Clock
	logger  hclog.Logger
	ownerID string
	prefix  string
}

type Option func(*Manager)

func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithOwnerID overrides the generated owner identity.
func WithOwnerID(id string) Option {
	return func(m *Manager) { m.ownerID = id }
}

// WithPrefix sets the key prefix, DefaultPrefix otherwise.
func WithPrefix(prefix string) Option {
	return func(m *Manager) { m.prefix = prefix }
}

func NewManager(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		clock:  clock.WallClock,
		logger: hclog.NewNullLogger(),
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ownerID == "" {
		m.ownerID = NewOwnerID()
	}
	return m
}

// NewOwnerID returns <hostname>@<pid>/<uuid>, unique per process invocation.
func NewOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s@%d/%s", host, os.Getpid(), uuid.NewString())
}

func (m *Manager) OwnerID() string {
	return m.ownerID
}

// Key returns the store key guarding a (pool, image) pair.
func (m *Manager) Key(pool, image string) string {
	return fmt.Sprintf("%s/lock_%s/%s", m.prefix, pool, image)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, types.ErrStoreUnavailable, err)
}

// Acquire claims the (pool, image) lock for lease. It makes a single attempt:
// a live holder yields ErrLockBusy and the caller is expected to give up.
// A record whose lease has run out is considered abandoned and replaced.
func (m *Manager) Acquire(ctx context.Context, pool, image string, lease time.Duration) (*types.LockHandle, error) {
	if lease <= 0 {
		return nil, types.ErrInvalidLease
	}

	key := m.Key(pool, image)
	logger := m.logger.With("key", key)

	handle, err := m.tryPut(ctx, key, lease)
	if err != nil || handle != nil {
		return handle, err
	}

	value, found, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, unavailable("read lock", err)
	}

	if found {
		rec, err := types.DecodeLockRecord(value)
		if err != nil {
			logger.Warn("lock record unreadable, treating it as held", "error", err)
			return nil, fmt.Errorf("%s: %w", key, types.ErrLockBusy)
		}

		now := m.clock.Now()
		if !rec.IsExpired(now) {
			logger.Debug("lock held", "owner", rec.Owner, "remaining", rec.Remaining(now))
			return nil, fmt.Errorf("%s held by %s until %s: %w",
				key, rec.Owner, rec.ExpiresAt.UTC().Format(time.RFC3339), types.ErrLockBusy)
		}

		logger.Info("superseding expired lock", "owner", rec.Owner, "expired_at", rec.ExpiresAt)
		if _, err := m.store.CompareAndDelete(ctx, key, value); err != nil {
			return nil, unavailable("remove expired lock", err)
		}
	}

	//one more attempt only, whoever wins the takeover race holds the lock
	handle, err = m.tryPut(ctx, key, lease)
	if err != nil || handle != nil {
		return handle, err
	}
	return nil, fmt.Errorf("%s: %w", key, types.ErrLockBusy)
}

func (m *Manager) tryPut(ctx context.Context, key string, lease time.Duration) (*types.LockHandle, error) {
	now := m.clock.Now()
	rec := types.LockRecord{
		Owner:      m.ownerID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(lease),
	}
	value, err := rec.Encode()
	if err != nil {
		return nil, err
	}

	ok, err := m.store.PutIfAbsent(ctx, key, value, lease)
	if err != nil {
		return nil, unavailable("write lock", err)
	}
	if !ok {
		return nil, nil
	}

	m.logger.Debug("lock acquired", "key", key, "owner", m.ownerID, "expires_at", rec.ExpiresAt)
	return &types.LockHandle{Key: key, Value: value, Record: rec}, nil
}

// Release deletes the lock record if it is still the one the handle wrote.
// Releasing twice, releasing after expiry or after another process took the
// lock over are all no-ops.
func (m *Manager) Release(ctx context.Context, handle *types.LockHandle) error {
	if handle == nil {
		return nil
	}

	deleted, err := m.store.CompareAndDelete(ctx, handle.Key, handle.Value)
	if err != nil {
		return unavailable("release lock", err)
	}
	if deleted {
		m.logger.Debug("lock released", "key", handle.Key)
	} else {
		m.logger.Debug("lock already gone or taken over, nothing to release", "key", handle.Key)
	}
	return nil
}

// Inspect returns the current record for a (pool, image) pair, if any.
func (m *Manager) Inspect(ctx context.Context, pool, image string) (*types.LockRecord, bool, error) {
	value, found, err := m.store.Get(ctx, m.Key(pool, image))
	if err != nil {
		return nil, false, unavailable("read lock", err)
	}
	if !found {
		return nil, false, nil
	}
	rec, err := types.DecodeLockRecord(value)
	if err != nil {
		return nil, true, err
	}
	return &rec, true, nil
}

// Break removes the lock record of a (pool, image) pair on operator request.
// Without force only an expired or unreadable record is removed.
func (m *Manager) Break(ctx context.Context, pool, image string, force bool) (bool, error) {
	key := m.Key(pool, image)

	value, found, err := m.store.Get(ctx, key)
	if err != nil {
		return false, unavailable("read lock", err)
	}
	if !found {
		return false, nil
	}

	if rec, err := types.DecodeLockRecord(value); err == nil && !force && !rec.IsExpired(m.clock.Now()) {
		return false, fmt.Errorf("%s held by %s: %w", key, rec.Owner, types.ErrLockBusy)
	}

	deleted, err := m.store.CompareAndDelete(ctx, key, value)
	if err != nil {
		return false, unavailable("remove lock", err)
	}
	if !deleted {
		return false, fmt.Errorf("%s changed while breaking it: %w", key, types.ErrNotLockHolder)
	}
	m.logger.Warn("lock broken", "key", key, "forced", force)
	return true, nil
}
