package store

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/pixperk/rbdsnap/pkg/fsm"
	"github.com/pixperk/rbdsnap/pkg/types"
)

// Memory is a process-local Store backed by the coordination FSM. It only
// coordinates goroutines of one process and backs tests and dry runs.
type Memory struct {
	fsm *fsm.FSM
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{fsm: fsm.NewFSM(clk)}
}

func (m *Memory) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	result, err := m.fsm.Apply(types.PutIfAbsentCmd{Key: key, Value: value, TTL: ttl})
	if err != nil {
		return false, err
	}
	return result.(fsm.PutIfAbsentResponse).Stored, nil
}

func (m *Memory) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	result, err := m.fsm.Apply(types.CompareAndDeleteCmd{Key: key, Expected: expected})
	if err != nil {
		return false, err
	}
	return result.(fsm.CompareAndDeleteResponse).Deleted, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	rec, ok := m.fsm.Get(key)
	return rec.Value, ok, nil
}

func (m *Memory) Close() error { return nil }
