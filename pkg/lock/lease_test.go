package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/pixperk/rbdsnap/pkg/store"
	"github.com/pixperk/rbdsnap/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noTTLStore drops the ttl the way the bolt store does, so only the
// expiry embedded in the lock record can free a crashed holder's lock
type noTTLStore struct {
	store.Store
}

func (s noTTLStore) PutIfAbsent(ctx context.Context, key, value string, _ time.Duration) (bool, error) {
	return s.Store.PutIfAbsent(ctx, key, value, 0)
}

func TestExpiredLeaseIsSuperseded(t *testing.T) {
	clk := testclock.NewClock(epoch)
	managers := newTestManagers(noTTLStore{store.NewMemory(clk)}, clk, 2)
	ctx := context.Background()

	_, err := managers[0].Acquire(ctx, "rbd", "vm-1", 10*time.Minute)
	require.NoError(t, err)

	//still live one second before expiry
	clk.Advance(10*time.Minute - time.Second)
	_, err = managers[1].Acquire(ctx, "rbd", "vm-1", 10*time.Minute)
	require.ErrorIs(t, err, types.ErrLockBusy)

	//holder 0 crashed, its lease runs out
	clk.Advance(time.Second)
	handle, err := managers[1].Acquire(ctx, "rbd", "vm-1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "host-1@100/test", handle.Record.Owner)
	assert.Equal(t, clk.Now().Add(10*time.Minute), handle.Record.ExpiresAt)
}

func TestExpiredLeaseSupersededRepeatedly(t *testing.T) {
	clk := testclock.NewClock(epoch)
	managers := newTestManagers(noTTLStore{store.NewMemory(clk)}, clk, 3)
	ctx := context.Background()

	//every holder crashes, nobody is ever locked out for good
	for round := 0; round < 6; round++ {
		m := managers[round%len(managers)]
		handle, err := m.Acquire(ctx, "rbd", "vm-1", time.Minute)
		require.NoError(t, err, "round %d", round)
		assert.Equal(t, m.OwnerID(), handle.Record.Owner)
		clk.Advance(time.Minute)
	}
}

func TestUnreadableRecordIsBusy(t *testing.T) {
	clk := testclock.NewClock(epoch)
	s := store.NewMemory(clk)
	m := newTestManagers(s, clk, 1)[0]
	ctx := context.Background()

	ok, err := s.PutIfAbsent(ctx, m.Key("rbd", "vm-1"), "legacy-host@1700000000.0", 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = m.Acquire(ctx, "rbd", "vm-1", time.Minute)
	assert.ErrorIs(t, err, types.ErrLockBusy)

	//the operator can still clear it
	broken, err := m.Break(ctx, "rbd", "vm-1", false)
	require.NoError(t, err)
	assert.True(t, broken)
}

func TestLockAcrossProcessesOnBolt(t *testing.T) {
	clk := testclock.NewClock(epoch)
	path := filepath.Join(t.TempDir(), "locks.db")
	ctx := context.Background()

	//each "process" opens the shared file on its own
	openStore := func() store.Store {
		s, err := store.NewBolt(store.BoltConfig{Path: path}, clk)
		require.NoError(t, err)
		return s
	}
	a := NewManager(openStore(), WithClock(clk), WithOwnerID("a"))
	b := NewManager(openStore(), WithClock(clk), WithOwnerID("b"))

	handle, err := a.Acquire(ctx, "rbd", "vm-1", time.Minute)
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "rbd", "vm-1", time.Minute)
	require.ErrorIs(t, err, types.ErrLockBusy)

	require.NoError(t, a.Release(ctx, handle))

	_, err = b.Acquire(ctx, "rbd", "vm-1", time.Minute)
	require.NoError(t, err)
}

func TestLockRecordExpiry(t *testing.T) {
	rec := types.LockRecord{Owner: "a", AcquiredAt: epoch, ExpiresAt: epoch.Add(time.Minute)}

	assert.False(t, rec.IsExpired(epoch))
	assert.Equal(t, time.Minute, rec.Remaining(epoch))
	assert.True(t, rec.IsExpired(epoch.Add(time.Minute)))
	assert.Zero(t, rec.Remaining(epoch.Add(time.Hour)))

	value, err := rec.Encode()
	require.NoError(t, err)
	decoded, err := types.DecodeLockRecord(value)
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(decoded.ExpiresAt))
	assert.Equal(t, rec.Owner, decoded.Owner)
}
