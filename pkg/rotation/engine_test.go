package rotation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/pixperk/rbdsnap/pkg/rbd"
	"github.com/pixperk/rbdsnap/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	epoch  = time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	target = types.Target{Pool: "rbd-pool1", Image: "vm-1", Suffix: "DAILY"}
)

type fixture struct {
	clock   *testclock.Clock
	backend *rbd.MemoryBackend
	engine  *Engine
}

func newFixture(opts ...Option) *fixture {
	clk := testclock.NewClock(epoch)
	backend := rbd.NewMemoryBackend(clk)
	opts = append([]Option{WithClock(clk)}, opts...)
	return &fixture{
		clock:   clk,
		backend: backend,
		engine:  NewEngine(backend, opts...),
	}
}

// seeds n group snapshots one day apart, returns their names oldest first
func (f *fixture) seed(t *testing.T, tgt types.Target, n int) []string {
	t.Helper()
	namer := f.engine.Namer(tgt.Suffix)
	var names []string
	for i := 0; i < n; i++ {
		created := f.clock.Now().Add(time.Duration(i-n) * 24 * time.Hour)
		name, err := namer.Next(created, nil)
		require.NoError(t, err)
		f.backend.Seed(types.Snapshot{Name: name, Pool: tgt.Pool, Image: tgt.Image, CreatedAt: created})
		names = append(names, name)
	}
	return names
}

func (f *fixture) group(t *testing.T, tgt types.Target) []types.Snapshot {
	t.Helper()
	all, err := f.backend.ListSnapshots(context.Background(), tgt.Pool, tgt.Image)
	require.NoError(t, err)
	return Group(all, f.engine.Namer(tgt.Suffix))
}

func names(snaps []types.Snapshot) []string {
	out := make([]string, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.Name)
	}
	return out
}

// [s1, s2, s3], keep 3 -> create s4, delete [s1], final [s2, s3, s4]
func TestPlanDeletesOldestBeyondKeep(t *testing.T) {
	f := newFixture()
	seeded := f.seed(t, target, 3)

	plan, err := f.engine.Plan(target, f.group(t, target), 3)
	require.NoError(t, err)

	assert.Equal(t, "rbdsnap_20240301T220000.000Z_DAILY", plan.Create)
	assert.Equal(t, []string{seeded[0]}, names(plan.Delete))
	assert.Equal(t, 3, plan.ResultingSize())

	_, err = f.engine.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{seeded[1], seeded[2], plan.Create}, names(f.group(t, target)))
}

// [], keep 10 -> create s1, delete []
func TestPlanEmptyGroup(t *testing.T) {
	f := newFixture()

	plan, err := f.engine.Plan(target, nil, 10)
	require.NoError(t, err)

	assert.NotEmpty(t, plan.Create)
	assert.Empty(t, plan.Delete)
	assert.Equal(t, 1, plan.ResultingSize())
}

// keep 0, [s1, s2] -> create s3, delete [s1, s2], final [s3]
func TestPlanKeepZeroRetainsOnlyNewSnapshot(t *testing.T) {
	f := newFixture()
	seeded := f.seed(t, target, 2)

	plan, err := f.engine.Plan(target, f.group(t, target), 0)
	require.NoError(t, err)
	assert.Equal(t, seeded, names(plan.Delete))

	_, err = f.engine.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{plan.Create}, names(f.group(t, target)))
}

func TestPlanNegativeKeepBehavesLikeZero(t *testing.T) {
	f := newFixture()
	seeded := f.seed(t, target, 2)

	plan, err := f.engine.Plan(target, f.group(t, target), -3)
	require.NoError(t, err)
	assert.Equal(t, seeded, names(plan.Delete))
}

func TestPlanSortsUnorderedInput(t *testing.T) {
	f := newFixture()
	seeded := f.seed(t, target, 4)

	group := f.group(t, target)
	reversed := []types.Snapshot{group[3], group[1], group[0], group[2]}

	plan, err := f.engine.Plan(target, reversed, 2)
	require.NoError(t, err)
	assert.Equal(t, seeded[:3], names(plan.Delete))
}

func TestPlanNameIsFreshWithinSameMillisecond(t *testing.T) {
	f := newFixture()

	first, err := f.engine.Plan(target, nil, 5)
	require.NoError(t, err)
	_, err = f.engine.Apply(context.Background(), first)
	require.NoError(t, err)

	//clock has not moved, the second invocation must still get a new name
	second, err := f.engine.Plan(target, f.group(t, target), 5)
	require.NoError(t, err)
	assert.NotEqual(t, first.Create, second.Create)
	_, err = f.engine.Apply(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, []string{first.Create, second.Create}, names(f.group(t, target)))
}

// group size after a rotation is min(keep, previous+1), or 1 when keep is 0
func TestRotateGroupSizeProperty(t *testing.T) {
	for keep := 0; keep <= 6; keep++ {
		for previous := 0; previous <= 8; previous++ {
			t.Run(fmt.Sprintf("keep=%d/previous=%d", keep, previous), func(t *testing.T) {
				f := newFixture()
				f.seed(t, target, previous)

				plan, _, err := f.engine.Rotate(context.Background(), target, keep)
				require.NoError(t, err)

				want := 1
				if keep > 0 {
					want = min(keep, previous+1)
				}
				got := f.group(t, target)
				assert.Len(t, got, want)
				assert.Equal(t, want, plan.ResultingSize())
				assert.Equal(t, plan.Create, got[len(got)-1].Name, "newest snapshot is kept")
			})
		}
	}
}

func TestRotateLeavesOtherSuffixesAlone(t *testing.T) {
	f := newFixture()
	weekly := types.Target{Pool: target.Pool, Image: target.Image, Suffix: "WEEKLY"}
	f.seed(t, target, 4)
	weeklies := f.seed(t, weekly, 3)
	f.backend.Seed(types.Snapshot{Name: "manual", Pool: target.Pool, Image: target.Image, CreatedAt: epoch.Add(-time.Hour * 1000)})

	_, res, err := f.engine.Rotate(context.Background(), target, 0)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 4)

	assert.Equal(t, weeklies, names(f.group(t, weekly)))
	assert.Contains(t, f.backend.Names(target.Pool, target.Image), "manual")
}

// snapshots of the old script age out ahead of newer ones
func TestRotatePrunesLegacySnapshots(t *testing.T) {
	f := newFixture()
	//the old script's counter runs newest first
	for i, age := range []int{30, 20, 10} {
		f.backend.Seed(types.Snapshot{
			Name:      fmt.Sprintf("%d_rbd_snap_manager_DAILY", 2-i),
			Pool:      target.Pool,
			Image:     target.Image,
			CreatedAt: epoch.Add(-time.Duration(age) * 24 * time.Hour),
		})
	}
	current := f.seed(t, target, 1)
	f.backend.Seed(types.Snapshot{Name: "1_rbd_snap_manager_WEEKLY", Pool: target.Pool, Image: target.Image, CreatedAt: epoch.Add(-40 * 24 * time.Hour)})

	plan, res, err := f.engine.Rotate(context.Background(), target, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"2_rbd_snap_manager_DAILY", "1_rbd_snap_manager_DAILY", "0_rbd_snap_manager_DAILY"}, names(plan.Delete))
	assert.Len(t, res.Deleted, 3)
	assert.Equal(t, []string{current[0], res.Created.Name}, names(f.group(t, target)))
	assert.Contains(t, f.backend.Names(target.Pool, target.Image), "1_rbd_snap_manager_WEEKLY")
}

func TestApplyCreatesBeforeDeleting(t *testing.T) {
	f := newFixture()
	seeded := f.seed(t, target, 3)

	plan, res, err := f.engine.Rotate(context.Background(), target, 1)
	require.NoError(t, err)
	require.NotNil(t, res.Created)
	assert.Equal(t, plan.Create, res.Created.Name)

	assert.Equal(t, []string{
		"create rbd-pool1/vm-1@" + plan.Create,
		"delete rbd-pool1/vm-1@" + seeded[0],
		"delete rbd-pool1/vm-1@" + seeded[1],
		"delete rbd-pool1/vm-1@" + seeded[2],
	}, f.backend.Ops())
}

func TestApplyCreateFailureDeletesNothing(t *testing.T) {
	f := newFixture()
	seeded := f.seed(t, target, 3)
	f.backend.FailCreate = func(string) error { return errors.New("rbd: image is busy") }

	_, res, err := f.engine.Rotate(context.Background(), target, 1)
	require.ErrorIs(t, err, types.ErrBackend)
	assert.Nil(t, res.Created)
	assert.Empty(t, f.backend.Ops())
	assert.Equal(t, seeded, names(f.group(t, target)))
}

func TestApplyStopsAtFirstDeleteFailure(t *testing.T) {
	f := newFixture()
	seeded := f.seed(t, target, 4)
	f.backend.FailDelete = func(name string) error {
		if name == seeded[1] {
			return errors.New("snapshot is protected")
		}
		return nil
	}

	_, res, err := f.engine.Rotate(context.Background(), target, 1)
	require.ErrorIs(t, err, types.ErrBackend)
	assert.Contains(t, err.Error(), "snapshot is protected")

	//created plus the first deletion, nothing after the failure
	assert.Equal(t, []string{seeded[0]}, names(res.Deleted))
	assert.Len(t, f.backend.Ops(), 2)
	assert.Equal(t, []string{seeded[1], seeded[2], seeded[3], res.Created.Name}, names(f.group(t, target)))
}

// interrupted after creating s4 but before deleting s1: the next run plans
// from [s1, s2, s3, s4] and converges without deleting anything twice
func TestRotateRecoversFromInterruptedRun(t *testing.T) {
	f := newFixture()
	seeded := f.seed(t, target, 3)
	f.backend.FailDelete = func(string) error { return errors.New("connection reset") }

	_, first, err := f.engine.Rotate(context.Background(), target, 3)
	require.ErrorIs(t, err, types.ErrBackend)
	require.NotNil(t, first.Created)
	s4 := first.Created.Name
	assert.Equal(t, append(append([]string{}, seeded...), s4), names(f.group(t, target)))

	f.backend.FailDelete = nil
	f.clock.Advance(24 * time.Hour)

	plan, second, err := f.engine.Rotate(context.Background(), target, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, plan.Existing)
	assert.Equal(t, []string{seeded[0], seeded[1]}, names(second.Deleted))
	assert.Equal(t, []string{seeded[2], s4, plan.Create}, names(f.group(t, target)))

	deletes := map[string]int{}
	for _, op := range f.backend.Ops() {
		deletes[op]++
	}
	for op, n := range deletes {
		assert.Equal(t, 1, n, "operation %s repeated", op)
	}
}

func TestApplyDryRunTouchesNothing(t *testing.T) {
	f := newFixture(WithDryRun(true))
	seeded := f.seed(t, target, 3)

	plan, res, err := f.engine.Rotate(context.Background(), target, 1)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Len(t, plan.Delete, 3)
	assert.Empty(t, f.backend.Ops())
	assert.Equal(t, seeded, names(f.group(t, target)))
}

type failingLister struct {
	*rbd.MemoryBackend
}

func (failingLister) ListSnapshots(context.Context, string, string) ([]types.Snapshot, error) {
	return nil, errors.New("rbd: error opening image vm-1: (2) No such file or directory")
}

func TestRotateListFailure(t *testing.T) {
	backend := failingLister{rbd.NewMemoryBackend(nil)}
	e := NewEngine(backend)

	_, _, err := e.Rotate(context.Background(), target, 3)
	require.ErrorIs(t, err, types.ErrBackend)
	assert.Empty(t, backend.Ops())
}

func TestPreviewChangesNothing(t *testing.T) {
	f := newFixture()
	names := f.seed(t, target, 3)

	plan, err := f.engine.Preview(context.Background(), target, 2)
	require.NoError(t, err)

	require.Len(t, plan.Delete, 2)
	assert.Equal(t, names[0], plan.Delete[0].Name)
	assert.Equal(t, names[1], plan.Delete[1].Name)
	assert.Equal(t, 3, plan.Existing)
	assert.Equal(t, 2, plan.ResultingSize())
	assert.Empty(t, f.backend.Ops())
	assert.Len(t, f.group(t, target), 3)
}
