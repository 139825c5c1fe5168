package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// a lock record is what gets written into the coordination store
// the expiry travels with the value so that stores without native TTL
// (bolt) can still tell a live holder from a crashed one
type LockRecord struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// checks if the lease has expired at the given wall clock time
func (r LockRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// remaining lease time, zero once expired
func (r LockRecord) Remaining(now time.Time) time.Duration {
	if r.IsExpired(now) {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

func (r LockRecord) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode lock record: %w", err)
	}
	return string(data), nil
}

func DecodeLockRecord(value string) (LockRecord, error) {
	var r LockRecord
	if err := json.Unmarshal([]byte(value), &r); err != nil {
		return LockRecord{}, fmt.Errorf("decode lock record: %w", err)
	}
	if r.Owner == "" || r.ExpiresAt.IsZero() {
		return LockRecord{}, fmt.Errorf("decode lock record: missing owner or expiry")
	}
	return r, nil
}
