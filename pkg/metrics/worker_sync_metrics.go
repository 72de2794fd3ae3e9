package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailmirror"

var (
	// SyncRuns counts finished sync runs by kind (full, incremental) and outcome.
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of a sync run",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
		},
		[]string{"kind"},
	)

	MessagesSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_synced_total",
			Help:      "Messages persisted by sync, per provider label",
		},
		[]string{"label"},
	)

	// MessageFailures counts skipped messages by stage: fetch, normalize, store.
	MessageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_failures_total",
			Help:      "Messages skipped during sync, by failing stage",
		},
		[]string{"stage"},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Mail provider API calls by operation and status",
		},
		[]string{"op", "status"},
	)

	Jobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Background jobs by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordSyncRun records one finished run.
func RecordSyncRun(kind, outcome string, d time.Duration) {
	SyncRuns.WithLabelValues(kind, outcome).Inc()
	SyncDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func IncrementMessagesSynced(label string) {
	MessagesSynced.WithLabelValues(label).Inc()
}

func IncrementMessageFailure(stage string) {
	MessageFailures.WithLabelValues(stage).Inc()
}

func IncrementProviderRequest(op, status string) {
	ProviderRequests.WithLabelValues(op, status).Inc()
}

func IncrementJob(jobType, outcome string) {
	Jobs.WithLabelValues(jobType, outcome).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
