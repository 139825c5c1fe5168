package fsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/pixperk/rbdsnap/pkg/types"
)

// record stored under a key
// a zero ExpiresAt means the record has no TTL
type Record struct {
	Value     string
	ExpiresAt time.Time
}

func (r *Record) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// manages the coordination key space in memory
// critical :
// - put-if-absent and compare-and-delete are atomic with respect to each other
// - an expired record is treated exactly like a missing one
type FSM struct {
	mu sync.RWMutex

	records map[string]*Record // key -> record

	clock clock.Clock
}

func NewFSM(clk clock.Clock) *FSM {
	if clk == nil {
		clk = clock.WallClock
	}
	return &FSM{
		records: make(map[string]*Record),
		clock:   clk,
	}
}

// applies a command to the FSM and returns the result or error
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.PutIfAbsentCmd:
		return f.applyPutIfAbsent(c)
	case types.CompareAndDeleteCmd:
		return f.applyCompareAndDelete(c)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// returned by a put-if-absent
type PutIfAbsentResponse struct {
	Stored bool
}

func (f *FSM) applyPutIfAbsent(cmd types.PutIfAbsentCmd) (any, error) {
	if cmd.Key == "" {
		return nil, fmt.Errorf("empty key")
	}
	if cmd.TTL < 0 {
		return nil, types.ErrInvalidLease
	}

	now := f.clock.Now()
	if existing, ok := f.records[cmd.Key]; ok && !existing.IsExpired(now) {
		return PutIfAbsentResponse{Stored: false}, nil
	}

	rec := &Record{Value: cmd.Value}
	if cmd.TTL > 0 {
		rec.ExpiresAt = now.Add(cmd.TTL)
	}
	f.records[cmd.Key] = rec

	return PutIfAbsentResponse{Stored: true}, nil
}

// returned by a compare-and-delete
type CompareAndDeleteResponse struct {
	Deleted bool
}

func (f *FSM) applyCompareAndDelete(cmd types.CompareAndDeleteCmd) (any, error) {
	rec, ok := f.records[cmd.Key]
	if !ok {
		return CompareAndDeleteResponse{Deleted: false}, nil
	}

	//expired records are gone as far as callers are concerned
	if rec.IsExpired(f.clock.Now()) {
		delete(f.records, cmd.Key)
		return CompareAndDeleteResponse{Deleted: false}, nil
	}

	if rec.Value != cmd.Expected {
		return CompareAndDeleteResponse{Deleted: false}, nil
	}

	delete(f.records, cmd.Key)

	return CompareAndDeleteResponse{Deleted: true}, nil
}

// returns the live record for key
func (f *FSM) Get(key string) (Record, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rec, ok := f.records[key]
	if !ok || rec.IsExpired(f.clock.Now()) {
		return Record{}, false
	}
	return *rec, true
}

// current fsm stats
type Stats struct {
	Records int
	Expired int
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.clock.Now()
	stats := Stats{Records: len(f.records)}
	for _, rec := range f.records {
		if rec.IsExpired(now) {
			stats.Expired++
		}
	}
	return stats
}
