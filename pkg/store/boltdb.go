package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	bolt "go.etcd.io/bbolt"
)

var locksBucket = []byte("locks")

type BoltConfig struct {
	Path    string
	Timeout time.Duration //how long to wait for another process holding the file
}

// BoltStore keeps records in a bbolt file shared by every process on one
// host. The file is opened for the duration of a single operation only, so
// bolt's exclusive file lock serializes operations across processes without
// making a waiting process fail.
//
// bolt has no TTL, each record carries its own expiry.
type BoltStore struct {
	path    string
	timeout time.Duration
	clock   clock.Clock
}

// envelope stored as the bolt value
type boltRecord struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (r boltRecord) isExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func NewBolt(cfg BoltConfig, clk clock.Clock) (*BoltStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt store: path is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}

	s := &BoltStore{path: cfg.Path, timeout: cfg.Timeout, clock: clk}

	//create the file and bucket up front so that misconfiguration fails early
	if err := s.update(func(b *bolt.Bucket) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", s.path, err)
	}
	return db, nil
}

func (s *BoltStore) update(fn func(b *bolt.Bucket) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(locksBucket)
		if err != nil {
			return err
		}
		return fn(b)
	})
}

func (s *BoltStore) view(fn func(b *bolt.Bucket) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(locksBucket)
		if b == nil {
			return nil
		}
		return fn(b)
	})
}

func readRecord(b *bolt.Bucket, key string) (boltRecord, bool, error) {
	raw := b.Get([]byte(key))
	if raw == nil {
		return boltRecord{}, false, nil
	}
	var rec boltRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return boltRecord{}, false, fmt.Errorf("decode bolt record %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *BoltStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	stored := false
	err := s.update(func(b *bolt.Bucket) error {
		now := s.clock.Now()
		existing, ok, err := readRecord(b, key)
		if err != nil {
			return err
		}
		if ok && !existing.isExpired(now) {
			return nil
		}

		rec := boltRecord{Value: value}
		if ttl > 0 {
			rec.ExpiresAt = now.Add(ttl)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

func (s *BoltStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	deleted := false
	err := s.update(func(b *bolt.Bucket) error {
		rec, ok, err := readRecord(b, key)
		if err != nil || !ok {
			return err
		}
		if rec.isExpired(s.clock.Now()) {
			return b.Delete([]byte(key))
		}
		if rec.Value != expected {
			return nil
		}
		if err := b.Delete([]byte(key)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *BoltStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var (
		value string
		found bool
	)
	err := s.view(func(b *bolt.Bucket) error {
		rec, ok, err := readRecord(b, key)
		if err != nil || !ok {
			return err
		}
		if rec.isExpired(s.clock.Now()) {
			return nil
		}
		value, found = rec.Value, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// nothing is held open between operations
func (s *BoltStore) Close() error { return nil }
