package internal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered with the default registry and served by the /metrics handler.
var (
	documentsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsync_documents_indexed_total",
		Help: "Documents acknowledged by the search backend, by form.",
	}, []string{"form"})

	bulkItemFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsync_bulk_item_failures_total",
		Help: "Documents rejected inside acknowledged bulk requests, by form.",
	}, []string{"form"})

	syncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsync_sync_passes_total",
		Help: "Completed sync passes by outcome.",
	}, []string{"outcome"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "formsync_sync_duration_seconds",
		Help:    "Wall time of a single form sync pass.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	searchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsync_search_requests_total",
		Help: "Search requests by outcome.",
	}, []string{"outcome"})

	poolAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsync_pool_acquire_total",
		Help: "Connection checkouts by pool and outcome.",
	}, []string{"pool", "outcome"})
)

// Outcome labels.
const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeCancelled = "cancelled"
	outcomeEmpty     = "empty"
	outcomeExhausted = "exhausted"
	outcomeInvalid   = "invalid"
)

func emitIndexed(formID string, n int) {
	if n > 0 {
		documentsIndexed.WithLabelValues(formID).Add(float64(n))
	}
}

func emitItemFailures(formID string, n int) {
	if n > 0 {
		bulkItemFailures.WithLabelValues(formID).Add(float64(n))
	}
}

func emitSyncPass(outcome string, elapsed time.Duration) {
	syncPasses.WithLabelValues(outcome).Inc()
	syncDuration.Observe(elapsed.Seconds())
}

func emitSearch(outcome string) {
	searchRequests.WithLabelValues(outcome).Inc()
}

func emitAcquire(pool, outcome string) {
	poolAcquires.WithLabelValues(pool, outcome).Inc()
}
