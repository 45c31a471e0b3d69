package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_transitions_total",
			Help: "Total number of committed status transitions by target status",
		},
		[]string{"target"},
	)

	VersionConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_version_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts observed",
		},
	)

	RollupRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_rollup_retries_total",
			Help: "Total number of parent rollup retries after version conflicts",
		},
	)

	// Messaging metrics
	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_messages_sent_total",
			Help: "Total number of notifications delivered by priority",
		},
		[]string{"priority"},
	)

	// Deadlock metrics
	DeadlocksDetected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_deadlocks_detected",
			Help: "Number of wait-for cycles found by the last sweep",
		},
	)

	DeadlockSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_deadlock_sweep_duration_seconds",
			Help:    "Deadlock sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Archival metrics
	TasksArchivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_tasks_archived_total",
			Help: "Total number of tasks moved into the archive",
		},
	)

	TasksCompressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_tasks_compressed_total",
			Help: "Total number of archived task folders compacted to tarballs",
		},
	)

	MonitorTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_monitor_tick_duration_seconds",
			Help:    "Full monitor tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(VersionConflictsTotal)
	prometheus.MustRegister(RollupRetriesTotal)
	prometheus.MustRegister(MessagesSentTotal)
	prometheus.MustRegister(DeadlocksDetected)
	prometheus.MustRegister(DeadlockSweepDuration)
	prometheus.MustRegister(TasksArchivedTotal)
	prometheus.MustRegister(TasksCompressedTotal)
	prometheus.MustRegister(MonitorTickDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
