package metrics

import (
	"context"
	"fmt"

	"github.com/pixperk/rbdsnap/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// run outcomes
const (
	ResultSuccess = "success"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// lock acquisition outcomes
const (
	LockAcquired = "acquired"
	LockBusy     = "busy"
	LockError    = "error"
)

// Metrics holds the collectors of one rotation run. Every collector carries
// the pool, image and suffix of the run as constant labels so several cron
// jobs can push to the same gateway.
type Metrics struct {
	reg *prometheus.Registry

	// labels: result (success/skipped/failed)
	RunsTotal *prometheus.CounterVec

	// labels: status (acquired/busy/error)
	LockAcquireTotal *prometheus.CounterVec

	SnapshotsCreated prometheus.Counter
	SnapshotsDeleted prometheus.Counter

	// group size after the run
	GroupSnapshots prometheus.Gauge

	// unix time of the last successful rotation
	LastSuccess prometheus.Gauge

	// wall time of the whole run, lock included
	RunDuration prometheus.Histogram
}

func New(target types.Target) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{
		"pool":   target.Pool,
		"image":  target.Image,
		"suffix": target.Suffix,
	}

	return &Metrics{
		reg: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "rbdsnap_runs_total",
			Help:        "total number of rotation runs",
			ConstLabels: labels,
		}, []string{"result"}),
		LockAcquireTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "rbdsnap_lock_acquire_total",
			Help:        "total number of lock acquisition attempts",
			ConstLabels: labels,
		}, []string{"status"}),
		SnapshotsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name:        "rbdsnap_snapshots_created_total",
			Help:        "total number of snapshots created",
			ConstLabels: labels,
		}),
		SnapshotsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "rbdsnap_snapshots_deleted_total",
			Help:        "total number of snapshots deleted by retention",
			ConstLabels: labels,
		}),
		GroupSnapshots: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rbdsnap_group_snapshots",
			Help:        "number of snapshots in the suffix group after the last run",
			ConstLabels: labels,
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "rbdsnap_last_success_timestamp_seconds",
			Help:        "unix time of the last successful rotation",
			ConstLabels: labels,
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "rbdsnap_run_duration_seconds",
			Help:        "time taken by one rotation run",
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			ConstLabels: labels,
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteTextfile writes the run's metrics for the node_exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Push sends the run's metrics to a Pushgateway, replacing the job's group.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
