package rbd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/pixperk/rbdsnap/pkg/ceph"
	"github.com/pixperk/rbdsnap/pkg/types"
)

// layout of the timestamp field printed by `rbd snap ls --format json`
const timestampLayout = "Mon Jan _2 15:04:05 2006"

// CLI drives the rbd and ceph command line tools.
type CLI struct {
	ceph  *ceph.Client
	clock clock.Clock
	loc   *time.Location
}

func NewCLI(client *ceph.Client, clk clock.Clock) *CLI {
	if clk == nil {
		clk = clock.WallClock
	}
	return &CLI{ceph: client, clock: clk, loc: time.Local}
}

func imageSpec(pool, image string) string {
	return pool + "/" + image
}

type lsEntry struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Size      uint64 `json:"size"`
	Protected string `json:"protected"`
	Timestamp string `json:"timestamp"`
}

// ParseSnapshotList decodes the json output of `rbd snap ls`.
func ParseSnapshotList(raw []byte, pool, image string, loc *time.Location) ([]types.Snapshot, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}

	var entries []lsEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse snapshot list: %w", err)
	}

	snaps := make([]types.Snapshot, 0, len(entries))
	for _, e := range entries {
		created, err := time.ParseInLocation(timestampLayout, e.Timestamp, loc)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of snapshot %s: %w", e.Name, err)
		}
		snaps = append(snaps, types.Snapshot{
			ID:        e.ID,
			Name:      e.Name,
			Pool:      pool,
			Image:     image,
			Size:      e.Size,
			Protected: e.Protected == "true",
			CreatedAt: created,
		})
	}
	return snaps, nil
}

func (c *CLI) ListSnapshots(ctx context.Context, pool, image string) ([]types.Snapshot, error) {
	out, err := c.ceph.RBD(ctx, "snap", "ls", "--format", "json", imageSpec(pool, image))
	if err != nil {
		return nil, fmt.Errorf("list snapshots of %s: %w", imageSpec(pool, image), err)
	}
	return ParseSnapshotList(out, pool, image, c.loc)
}

func (c *CLI) CreateSnapshot(ctx context.Context, pool, image, name string) (types.Snapshot, error) {
	snap := types.Snapshot{Pool: pool, Image: image, Name: name}
	if _, err := c.ceph.RBD(ctx, "snap", "create", snap.Spec()); err != nil {
		return types.Snapshot{}, fmt.Errorf("create snapshot %s: %w", snap.Spec(), err)
	}
	snap.CreatedAt = c.clock.Now()
	return snap, nil
}

func (c *CLI) DeleteSnapshot(ctx context.Context, pool, image, name string) error {
	snap := types.Snapshot{Pool: pool, Image: image, Name: name}
	if _, err := c.ceph.RBD(ctx, "snap", "rm", snap.Spec()); err != nil {
		return fmt.Errorf("remove snapshot %s: %w", snap.Spec(), err)
	}
	return nil
}

type osdDump struct {
	Pools []struct {
		Pool                int                        `json:"pool"`
		PoolName            string                     `json:"pool_name"`
		ApplicationMetadata map[string]json.RawMessage `json:"application_metadata"`
	} `json:"pools"`
}

// ParseRBDPools returns name -> id of every pool with the rbd application enabled.
func ParseRBDPools(raw []byte) (map[string]int, error) {
	var dump osdDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return nil, fmt.Errorf("parse osd dump: %w", err)
	}

	pools := make(map[string]int)
	for _, p := range dump.Pools {
		if _, ok := p.ApplicationMetadata["rbd"]; ok {
			pools[p.PoolName] = p.Pool
		}
	}
	return pools, nil
}

func (c *CLI) ValidatePool(ctx context.Context, pool string) error {
	out, err := c.ceph.Ceph(ctx, "osd", "dump", "-f", "json")
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}
	pools, err := ParseRBDPools(out)
	if err != nil {
		return err
	}
	if _, ok := pools[pool]; !ok {
		return fmt.Errorf("pool `%s`: %w", pool, types.ErrPoolNotFound)
	}
	return nil
}
