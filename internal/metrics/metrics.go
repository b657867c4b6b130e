package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	tasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "growlog",
			Name:      "tasks_processed_total",
			Help:      "Care tasks processed by operation and result.",
		},
		[]string{"operation", "result"},
	)

	batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "growlog",
			Name:      "batches_total",
			Help:      "Processing batches by outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "growlog",
			Name:      "queue_depth",
			Help:      "Batches currently waiting in the processing queue.",
		},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "growlog",
			Name:      "batch_processing_seconds",
			Help:      "Wall time spent processing one batch.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "growlog",
			Name:      "notifications_total",
			Help:      "Notification dispatch outcomes.",
		},
		[]string{"result"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "growlog",
			Name:      "sync_runs_total",
			Help:      "Sync passes by result.",
		},
		[]string{"result"},
	)

	syncConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "growlog",
			Name:      "sync_conflicts_total",
			Help:      "Conflicts detected and resolved during sync.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			tasksProcessed,
			batches,
			queueDepth,
			batchDuration,
			notifications,
			syncRuns,
			syncConflicts,
		)
	})
}

// IncTask counts one processed task for an operation and result label.
func IncTask(operation, result string) {
	tasksProcessed.WithLabelValues(operation, result).Inc()
}

// IncBatch counts one batch outcome (completed, retried, failed).
func IncBatch(outcome string) {
	batches.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// ObserveBatchDuration records how long one batch took.
func ObserveBatchDuration(seconds float64) {
	batchDuration.Observe(seconds)
}

// IncNotification counts a dispatch outcome (scheduled, failed, deferred, cancelled).
func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}

// IncSyncRun counts a sync pass result (success, failure, noop).
func IncSyncRun(result string) {
	syncRuns.WithLabelValues(result).Inc()
}

// IncSyncConflict counts one resolved conflict.
func IncSyncConflict() {
	syncConflicts.Inc()
}
