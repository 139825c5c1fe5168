package rbd

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/juju/clock"
	"github.com/pixperk/rbdsnap/pkg/types"
)

// MemoryBackend keeps snapshots in memory. It records every mutating call
// and can be told to fail specific ones, which makes interrupted rotations
// reproducible in tests.
type MemoryBackend struct {
	mu     sync.Mutex
	clock  clock.Clock
	nextID uint64
	snaps  map[string][]types.Snapshot // pool/image -> snapshots
	pools  map[string]bool
	ops    []string

	// FailCreate and FailDelete, when set, are consulted before each call.
	FailCreate func(name string) error
	FailDelete func(name string) error
}

func NewMemoryBackend(clk clock.Clock) *MemoryBackend {
	if clk == nil {
		clk = clock.WallClock
	}
	return &MemoryBackend{
		clock:  clk,
		nextID: 1,
		snaps:  make(map[string][]types.Snapshot),
		pools:  make(map[string]bool),
	}
}

// AddPool registers an rbd enabled pool for ValidatePool.
func (m *MemoryBackend) AddPool(pool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool] = true
}

// Seed adds an existing snapshot without recording an operation.
func (m *MemoryBackend) Seed(snap types.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.ID == 0 {
		snap.ID = m.nextID
		m.nextID++
	}
	key := imageSpec(snap.Pool, snap.Image)
	m.snaps[key] = append(m.snaps[key], snap)
}

// Ops returns the mutating calls made so far, e.g. "create rbd/vm@name".
func (m *MemoryBackend) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// Names returns the snapshot names of an image sorted by id.
func (m *MemoryBackend) Names(pool, image string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := append([]types.Snapshot(nil), m.snaps[imageSpec(pool, image)]...)
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	names := make([]string, 0, len(snaps))
	for _, s := range snaps {
		names = append(names, s.Name)
	}
	return names
}

func (m *MemoryBackend) ListSnapshots(ctx context.Context, pool, image string) ([]types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Snapshot(nil), m.snaps[imageSpec(pool, image)]...), nil
}

func (m *MemoryBackend) CreateSnapshot(ctx context.Context, pool, image, name string) (types.Snapshot, error) {
	if m.FailCreate != nil {
		if err := m.FailCreate(name); err != nil {
			return types.Snapshot{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := imageSpec(pool, image)
	for _, s := range m.snaps[key] {
		if s.Name == name {
			return types.Snapshot{}, fmt.Errorf("snapshot %s@%s already exists", key, name)
		}
	}

	snap := types.Snapshot{
		ID:        m.nextID,
		Name:      name,
		Pool:      pool,
		Image:     image,
		CreatedAt: m.clock.Now(),
	}
	m.nextID++
	m.snaps[key] = append(m.snaps[key], snap)
	m.ops = append(m.ops, "create "+snap.Spec())
	return snap, nil
}

func (m *MemoryBackend) DeleteSnapshot(ctx context.Context, pool, image, name string) error {
	if m.FailDelete != nil {
		if err := m.FailDelete(name); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := imageSpec(pool, image)
	snaps := m.snaps[key]
	for i, s := range snaps {
		if s.Name == name {
			m.snaps[key] = append(snaps[:i:i], snaps[i+1:]...)
			m.ops = append(m.ops, "delete "+s.Spec())
			return nil
		}
	}
	return fmt.Errorf("snapshot %s@%s does not exist", key, name)
}

func (m *MemoryBackend) ValidatePool(ctx context.Context, pool string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pools[pool] {
		return fmt.Errorf("pool `%s`: %w", pool, types.ErrPoolNotFound)
	}
	return nil
}
