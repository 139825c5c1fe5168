// Package rbd is the snapshot backend: listing, creating and removing RBD
// snapshots of one image.
package rbd

import (
	"context"

	"github.com/pixperk/rbdsnap/pkg/types"
)

// Backend is the storage backend consumed by the rotation engine.
type Backend interface {
	// ListSnapshots returns every snapshot of the image, in backend order.
	ListSnapshots(ctx context.Context, pool, image string) ([]types.Snapshot, error)
	CreateSnapshot(ctx context.Context, pool, image, name string) (types.Snapshot, error)
	DeleteSnapshot(ctx context.Context, pool, image, name string) error
}

// PoolValidator checks that a pool exists and serves RBD images.
type PoolValidator interface {
	ValidatePool(ctx context.Context, pool string) error
}
