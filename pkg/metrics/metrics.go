// Package metrics holds the Prometheus collectors for the scrape pipeline.
// All methods are nil-safe so components can run without metrics wired.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline's collectors on a dedicated registry
type Metrics struct {
	Registry         *prometheus.Registry
	FetchAttempts    *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	Retries          *prometheus.CounterVec
	Pages            *prometheus.CounterVec
	RecordsStored    *prometheus.CounterVec
	RecordsRejected  *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
	RateWaitDuration *prometheus.HistogramVec
	JobsRunning      prometheus.Gauge
}

// New constructs and registers all collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetchAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_fetch_attempts_total",
			Help: "Listing page fetch attempts by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_fetch_duration_seconds",
			Help:    "Latency of individual fetch attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_fetch_retries_total",
			Help: "Retry attempts scheduled after transient fetch failures.",
		},
		[]string{"platform"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_pages_total",
			Help: "Processed listing pages by platform and page status.",
		},
		[]string{"platform", "status"},
	)
	stored := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_records_stored_total",
			Help: "Product records upserted into the store.",
		},
		[]string{"platform"},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_records_rejected_total",
			Help: "Extracted product blocks dropped during normalization.",
		},
		[]string{"platform", "reason"},
	)
	storeErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_store_errors_total",
			Help: "Failed record upserts.",
		},
		[]string{"platform"},
	)
	rateWait := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_rate_wait_seconds",
			Help:    "Time spent waiting for a platform's rate-limit slot.",
			Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"platform"},
	)
	jobsRunning := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_jobs_running",
			Help: "Scrape jobs currently in progress.",
		},
	)

	registry.MustRegister(fetchAttempts, fetchDuration, retries, pages, stored, rejected, storeErrors, rateWait, jobsRunning)

	return &Metrics{
		Registry:         registry,
		FetchAttempts:    fetchAttempts,
		FetchDuration:    fetchDuration,
		Retries:          retries,
		Pages:            pages,
		RecordsStored:    stored,
		RecordsRejected:  rejected,
		StoreErrors:      storeErrors,
		RateWaitDuration: rateWait,
		JobsRunning:      jobsRunning,
	}
}

// ObserveFetch records one fetch attempt and its latency
func (m *Metrics) ObserveFetch(platform, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(platform, outcome).Inc()
	m.FetchDuration.WithLabelValues(platform).Observe(d.Seconds())
}

// IncRetry counts a scheduled retry
func (m *Metrics) IncRetry(platform string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(platform).Inc()
}

// IncPage counts a finished page by status
func (m *Metrics) IncPage(platform, status string) {
	if m == nil {
		return
	}
	m.Pages.WithLabelValues(platform, status).Inc()
}

// IncStored counts a successful upsert
func (m *Metrics) IncStored(platform string) {
	if m == nil {
		return
	}
	m.RecordsStored.WithLabelValues(platform).Inc()
}

// IncRejected counts a block dropped by the normalizer
func (m *Metrics) IncRejected(platform, reason string) {
	if m == nil {
		return
	}
	m.RecordsRejected.WithLabelValues(platform, reason).Inc()
}

// IncStoreError counts a failed upsert
func (m *Metrics) IncStoreError(platform string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(platform).Inc()
}

// ObserveRateWait records how long a fetch waited for its rate slot
func (m *Metrics) ObserveRateWait(platform string, d time.Duration) {
	if m == nil {
		return
	}
	m.RateWaitDuration.WithLabelValues(platform).Observe(d.Seconds())
}

// JobStarted increments the running jobs gauge
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

// JobFinished decrements the running jobs gauge
func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
}
