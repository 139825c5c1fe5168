package types

import "time"

// one rbd snapshot of an image
type Snapshot struct {
	ID        uint64
	Name      string
	Pool      string
	Image     string
	Size      uint64
	Protected bool
	CreatedAt time.Time
}

// Spec returns the rbd snapshot spec, pool/image@name.
func (s Snapshot) Spec() string {
	return s.Pool + "/" + s.Image + "@" + s.Name
}

// the (pool, image, suffix) group a rotation works on
type Target struct {
	Pool   string
	Image  string
	Suffix string
}

func (t Target) String() string {
	return t.Pool + "/" + t.Image + " (" + t.Suffix + ")"
}

// a rotation plan for one group
// Create is always set, Delete is ordered oldest first
type Plan struct {
	Target
	Keep int

	Create string
	Delete []Snapshot

	// size of the group the plan was computed from
	Existing int
}

// number of snapshots left in the group once the plan is fully applied
func (p Plan) ResultingSize() int {
	return p.Existing + 1 - len(p.Delete)
}
