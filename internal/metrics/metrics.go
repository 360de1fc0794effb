// Package metrics provides Prometheus metrics for the recovery service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the recovery service.
type Metrics struct {
	// Query metrics
	QueriesCompleted *prometheus.CounterVec
	QueriesFailed    *prometheus.CounterVec

	// File metrics
	FilesRecovered *prometheus.CounterVec
	BytesRecovered *prometheus.CounterVec
	TargetsFailed  *prometheus.CounterVec

	// Timing metrics
	BundleProcessDuration *prometheus.HistogramVec
	DownloadDuration      *prometheus.HistogramVec
	QueryDuration         *prometheus.HistogramVec

	// Pool metrics
	PendingTargets prometheus.Gauge

	// Error metrics
	RetryAttempts *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // metrics HTTP server address (e.g. ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "goes_recovery"
	}

	m := &Metrics{
		QueriesCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_completed_total",
				Help:      "Total number of queries that reached the completed state",
			},
			[]string{"satellite", "level"},
		),
		QueriesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_failed_total",
				Help:      "Total number of queries that ended in error",
			},
			[]string{"satellite", "level"},
		),
		FilesRecovered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_recovered_total",
				Help:      "Total number of files written to query destinations",
			},
			[]string{"satellite", "level", "origin"},
		),
		BytesRecovered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_recovered_total",
				Help:      "Total bytes written to query destinations",
			},
			[]string{"satellite", "level", "origin"},
		),
		TargetsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targets_failed_total",
				Help:      "Total number of search targets unresolved by both tiers",
			},
			[]string{"satellite", "level"},
		),
		BundleProcessDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bundle_process_duration_seconds",
				Help:      "Time to process one local bundle",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11), // 0.1s to ~100s
			},
			[]string{"satellite", "level"},
		),
		DownloadDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_duration_seconds",
				Help:      "Time to download one mirror object, retries included",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11),
			},
			[]string{"satellite", "level"},
		),
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "End-to-end time per recovery query",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
			},
			[]string{"satellite", "level"},
		),
		PendingTargets: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_targets",
				Help:      "Targets currently waiting in the worker pool",
			},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of mirror download retry attempts",
			},
			[]string{"satellite", "operation"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Satellite string
	Level     string
	Origin    string
	Operation string
}

// IncQueriesCompleted increments the completed-queries counter.
func (m *Metrics) IncQueriesCompleted(l Labels) {
	m.QueriesCompleted.WithLabelValues(l.Satellite, l.Level).Inc()
}

// IncQueriesFailed increments the failed-queries counter.
func (m *Metrics) IncQueriesFailed(l Labels) {
	m.QueriesFailed.WithLabelValues(l.Satellite, l.Level).Inc()
}

// AddFilesRecovered adds to the recovered-files counter.
func (m *Metrics) AddFilesRecovered(l Labels, count float64) {
	m.FilesRecovered.WithLabelValues(l.Satellite, l.Level, l.Origin).Add(count)
}

// AddBytesRecovered adds to the recovered-bytes counter.
func (m *Metrics) AddBytesRecovered(l Labels, bytes float64) {
	m.BytesRecovered.WithLabelValues(l.Satellite, l.Level, l.Origin).Add(bytes)
}

// AddTargetsFailed adds to the failed-targets counter.
func (m *Metrics) AddTargetsFailed(l Labels, count float64) {
	m.TargetsFailed.WithLabelValues(l.Satellite, l.Level).Add(count)
}

// ObserveBundleProcessDuration records one bundle processing time.
func (m *Metrics) ObserveBundleProcessDuration(l Labels, seconds float64) {
	m.BundleProcessDuration.WithLabelValues(l.Satellite, l.Level).Observe(seconds)
}

// ObserveDownloadDuration records one mirror download time.
func (m *Metrics) ObserveDownloadDuration(l Labels, seconds float64) {
	m.DownloadDuration.WithLabelValues(l.Satellite, l.Level).Observe(seconds)
}

// ObserveQueryDuration records one end-to-end query time.
func (m *Metrics) ObserveQueryDuration(l Labels, seconds float64) {
	m.QueryDuration.WithLabelValues(l.Satellite, l.Level).Observe(seconds)
}

// SetPendingTargets sets the current pool depth.
func (m *Metrics) SetPendingTargets(depth float64) {
	m.PendingTargets.Set(depth)
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Satellite, l.Operation).Inc()
}
