// Package metrics provides Prometheus metrics for the liscrape ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager holds all Prometheus metrics of the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// Front end
	submissions *prometheus.CounterVec

	// Pipeline
	outcomes      *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	fetchErrors   *prometheus.CounterVec
	sinkLatency   prometheus.Histogram
	ledgerStores  *prometheus.CounterVec
	sessionStored prometheus.Gauge
	totalStored   prometheus.Gauge
	quotaUsed     prometheus.Gauge

	// Queue
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "liscrape",
		subsystem:        "pipeline",
		histogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one constructor per metric
	auto := promauto.With(m.registry)

	m.submissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "submissions_total",
		Help:      "Profile submissions by result status",
	}, []string{"status"})

	m.outcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "items_total",
		Help:      "Queued profiles by terminal outcome",
	}, []string{"outcome"})

	m.fetchLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_latency_milliseconds",
		Help:      "External API call latency in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"call"})

	m.fetchErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_errors_total",
		Help:      "Failed external API calls",
	}, []string{"call"})

	m.sinkLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_append_latency_milliseconds",
		Help:      "Record sink append latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.ledgerStores = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ledger_stores_total",
		Help:      "Ledger persistence attempts by result",
	}, []string{"result"})

	m.sessionStored = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "session_stored",
		Help:      "Profiles stored during this run",
	})

	m.totalStored = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "total_stored",
		Help:      "Profiles in the output file",
	})

	m.quotaUsed = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "quota_used",
		Help:      "Calls charged in the trailing hour, including pending reservations",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Profiles waiting in the ingestion queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Capacity of the ingestion queue",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Local API requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "Local API request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// Global recording helpers. They are no-ops when the global manager is disabled.

// RecordSubmission counts a front-end submission by status.
func RecordSubmission(status string) {
	if globalManager.enabled {
		globalManager.submissions.WithLabelValues(status).Inc()
	}
}

// RecordOutcome counts a terminal worker outcome.
func RecordOutcome(outcome string) {
	if globalManager.enabled {
		globalManager.outcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordFetchLatency observes an external API call's latency.
func RecordFetchLatency(call string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.fetchLatency.WithLabelValues(call).Observe(latencyMs)
	}
}

// RecordFetchError counts a failed external API call.
func RecordFetchError(call string) {
	if globalManager.enabled {
		globalManager.fetchErrors.WithLabelValues(call).Inc()
	}
}

// RecordSinkLatency observes a sink append's latency.
func RecordSinkLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.sinkLatency.Observe(latencyMs)
	}
}

// RecordLedgerStore counts a ledger persistence attempt.
func RecordLedgerStore(ok bool) {
	if !globalManager.enabled {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	globalManager.ledgerStores.WithLabelValues(result).Inc()
}

// UpdateStoredCounts sets the session and total stored gauges.
func UpdateStoredCounts(session, total int64) {
	if globalManager.enabled {
		globalManager.sessionStored.Set(float64(session))
		globalManager.totalStored.Set(float64(total))
	}
}

// UpdateQuotaUsed sets the in-window call count gauge.
func UpdateQuotaUsed(used int) {
	if globalManager.enabled {
		globalManager.quotaUsed.Set(float64(used))
	}
}

// UpdateQueueSize sets the current queue length.
func UpdateQueueSize(size int) {
	if globalManager.enabled {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	if globalManager.enabled {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// RecordHTTPRequest counts a local API request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration observes a local API request's duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// GetRegistry returns the registry the global metrics are registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
