package types

// lock handle is an exclusive claim on one (pool, image) pair
// Value is the exact string written to the store, release compares against it
// so a handle can never delete a record written by someone else
type LockHandle struct {
	Key    string
	Value  string
	Record LockRecord
}
