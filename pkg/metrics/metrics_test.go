package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pixperk/rbdsnap/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = types.Target{Pool: "rbd", Image: "vm-1", Suffix: "DAILY"}

func TestCollectors(t *testing.T) {
	m := New(target)

	m.RunsTotal.WithLabelValues(ResultSuccess).Inc()
	m.LockAcquireTotal.WithLabelValues(LockAcquired).Inc()
	m.SnapshotsCreated.Inc()
	m.SnapshotsDeleted.Add(2)
	m.GroupSnapshots.Set(10)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(ResultFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotsDeleted))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.GroupSnapshots))

	expected := `
# HELP rbdsnap_snapshots_created_total total number of snapshots created
# TYPE rbdsnap_snapshots_created_total counter
rbdsnap_snapshots_created_total{image="vm-1",pool="rbd",suffix="DAILY"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "rbdsnap_snapshots_created_total"))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := New(target)
	b := New(target)

	a.SnapshotsCreated.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SnapshotsCreated))
}

func TestWriteTextfile(t *testing.T) {
	m := New(target)
	m.SnapshotsCreated.Inc()

	path := filepath.Join(t.TempDir(), "rbdsnap.prom")
	require.NoError(t, m.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `rbdsnap_snapshots_created_total{image="vm-1",pool="rbd",suffix="DAILY"} 1`)
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New(target)
	m.RunsTotal.WithLabelValues(ResultSuccess).Inc()

	require.NoError(t, m.Push(context.Background(), srv.URL, "rbdsnap"))
	assert.Equal(t, "/metrics/job/rbdsnap", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New(target).Push(context.Background(), srv.URL, "rbdsnap")
	assert.Error(t, err)
}
