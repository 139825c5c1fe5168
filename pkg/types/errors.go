package types

import "errors"

var (
	// Lock errors
	ErrLockBusy      = errors.New("lock is held by another process")
	ErrInvalidLease  = errors.New("invalid lease duration")
	ErrNotLockHolder = errors.New("caller is not the lock holder")
	ErrLeaseExpired  = errors.New("lease ran out before the run finished")

	// Coordination store errors
	ErrStoreUnavailable = errors.New("coordination store unavailable")

	// Storage backend errors
	ErrBackend      = errors.New("storage backend error")
	ErrPoolNotFound = errors.New("pool not found or not rbd enabled")

	// Invocation errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
