// Package metrics exposes Prometheus collectors for the batch service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	batchesTotal         prometheus.Counter
	batchSizeItems       prometheus.Histogram
	jobsTotal            *prometheus.CounterVec
	jobDurationSeconds   *prometheus.HistogramVec
	deliveriesTotal      *prometheus.CounterVec
	progressDroppedTotal prometheus.Counter
	activeJobs           prometheus.Gauge
	relayPendingHandoffs prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		batchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "batch_submissions_total",
				Help: "Total number of batches accepted for processing.",
			},
		)

		batchSizeItems = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batch_size_items",
				Help:    "Histogram of novel items per accepted batch.",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novel_jobs_total",
				Help: "Total number of novel jobs finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "novel_job_duration_seconds",
				Help:    "Histogram of novel job durations, labeled by outcome.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"outcome"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifact_deliveries_total",
				Help: "Total artifact deliveries, labeled by transport and result.",
			},
			[]string{"transport", "result"},
		)

		progressDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "progress_messages_dropped_total",
				Help: "Progress messages discarded because a job outpaced its supervisor.",
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "novel_jobs_active",
				Help: "Number of novel jobs currently occupying a worker slot.",
			},
		)

		relayPendingHandoffs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_pending_handoffs",
				Help: "Large-file relay hand-offs waiting for resolution.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBatch records an accepted batch and its item count.
func ObserveBatch(items int) {
	batchesTotal.Inc()
	batchSizeItems.Observe(float64(items))
}

// ObserveJob records a finished job's outcome and duration.
func ObserveJob(outcome string, duration time.Duration) {
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveDelivery records one delivery attempt.
func ObserveDelivery(transport, result string) {
	deliveriesTotal.WithLabelValues(transport, result).Inc()
}

// AddProgressDropped adds to the dropped progress message counter.
func AddProgressDropped(n int64) {
	if n > 0 {
		progressDroppedTotal.Add(float64(n))
	}
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	activeJobs.Dec()
}

// SetRelayPending sets the pending relay hand-off gauge.
func SetRelayPending(n int) {
	relayPendingHandoffs.Set(float64(n))
}
