// Package metrics provides Prometheus metrics for the Happenin settlement service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Settlement outcomes.
const (
	OutcomeSettled   = "settled"
	OutcomePartial   = "partial"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Settlement pipeline
	settlements          *prometheus.CounterVec
	settlementLatency    prometheus.Histogram
	registrationsCreated prometheus.Counter
	ticketsIssued        prometheus.Counter
	membersSkipped       prometheus.Counter
	memberFailures       prometheus.Counter
	signatureRejections  prometheus.Counter

	// Retry ledger
	retryRequests *prometheus.CounterVec
	retryFailures prometheus.Counter

	// Staleness-aware cache
	cacheLookups       *prometheus.CounterVec
	cacheRevalidations *prometheus.CounterVec
	cacheEntries       *prometheus.GaugeVec
	breakerState       *prometheus.GaugeVec

	// Offline queue (device client)
	queueReplayActions *prometheus.CounterVec
	queueReplayPasses  prometheus.Counter
	queueLength        prometheus.Gauge

	// Repository
	repositoryLatency *prometheus.HistogramVec
	repositoryErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
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
		namespace:        "happenin",
		subsystem:        "settlement",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	counterVec := func(name, help string, vars ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		}, vars)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	gaugeVec := func(name, help string, vars ...string) *prometheus.GaugeVec {
		return auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		}, vars)
	}
	histogram := func(name, help string) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
			Buckets: m.histogramBuckets,
		})
	}
	histogramVec := func(name, help string, vars ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
			Buckets: m.histogramBuckets,
		}, vars)
	}

	m.settlements = counterVec("settlements_total", "Payment confirmations by outcome", "outcome")
	m.settlementLatency = histogram("settlement_latency_milliseconds", "End-to-end settlement latency in milliseconds")
	m.registrationsCreated = counter("registrations_created_total", "Registration records created")
	m.ticketsIssued = counter("tickets_issued_total", "Ticket records issued")
	m.membersSkipped = counter("members_skipped_total", "Batch members skipped because they were already registered")
	m.memberFailures = counter("member_failures_total", "Batch members whose registration insert failed")
	m.signatureRejections = counter("signature_rejections_total", "Payment confirmations rejected by the signature gate")

	m.retryRequests = counterVec("retry_requests_total", "Client retry requests by outcome", "outcome")
	m.retryFailures = counter("retry_failures_recorded_total", "Failed payment attempts recorded in the retry ledger")

	m.cacheLookups = counterVec("cache_lookups_total", "Cache lookups by result", "cache", "result")
	m.cacheRevalidations = counterVec("cache_revalidations_total", "Background recomputations by outcome", "cache", "outcome")
	m.cacheEntries = gaugeVec("cache_entries", "Entries held by a cache", "cache")
	m.breakerState = gaugeVec("circuit_breaker_state", "Circuit breaker state (0 closed, 1 half-open, 2 open)", "name")

	m.queueReplayActions = counterVec("queue_replay_actions_total", "Offline queue actions by replay outcome", "outcome")
	m.queueReplayPasses = counter("queue_replay_passes_total", "Offline queue replay passes")
	m.queueLength = gauge("queue_length", "Actions waiting in the offline queue")

	m.repositoryLatency = histogramVec("repository_latency_milliseconds", "Repository operation latency in milliseconds", "operation")
	m.repositoryErrors = counterVec("repository_errors_total", "Repository errors by operation", "operation")

	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	m.errorRateByComponent = counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = histogramVec("error_latency_milliseconds", "Latency of operations that ended in an error",
		"component", "error_type")

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = histogram("system_gc_pause_milliseconds", "Average GC pause time in milliseconds")
}

// Settlement pipeline.

// RecordSettlement counts a confirmation by outcome and observes its latency.
func RecordSettlement(outcome string, latencyMs float64) {
	globalManager.settlements.WithLabelValues(outcome).Inc()
	globalManager.settlementLatency.Observe(latencyMs)
}

// RecordRegistrationCreated increments the registration counter.
func RecordRegistrationCreated() {
	globalManager.registrationsCreated.Inc()
}

// RecordTicketIssued increments the ticket counter.
func RecordTicketIssued() {
	globalManager.ticketsIssued.Inc()
}

// RecordMemberSkipped increments the skipped-member counter.
func RecordMemberSkipped() {
	globalManager.membersSkipped.Inc()
}

// RecordMemberFailure increments the failed-member counter.
func RecordMemberFailure() {
	globalManager.memberFailures.Inc()
}

// RecordSignatureRejection increments the signature rejection counter.
func RecordSignatureRejection() {
	globalManager.signatureRejections.Inc()
}

// Retry ledger.

// RecordRetryRequest counts a retry request by outcome.
func RecordRetryRequest(outcome string) {
	globalManager.retryRequests.WithLabelValues(outcome).Inc()
}

// RecordRetryFailure counts a failed attempt entering the ledger.
func RecordRetryFailure() {
	globalManager.retryFailures.Inc()
}

// Cache.

// RecordCacheLookup counts a lookup result (fresh, stale, miss, fallback).
func RecordCacheLookup(cache, result string) {
	globalManager.cacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordCacheRevalidation counts a background recomputation.
func RecordCacheRevalidation(cache, outcome string) {
	globalManager.cacheRevalidations.WithLabelValues(cache, outcome).Inc()
}

// UpdateCacheEntries sets the number of entries in a cache.
func UpdateCacheEntries(cache string, n int) {
	globalManager.cacheEntries.WithLabelValues(cache).Set(float64(n))
}

// UpdateBreakerState records a circuit breaker state.
func UpdateBreakerState(name string, state int) {
	globalManager.breakerState.WithLabelValues(name).Set(float64(state))
}

// Offline queue.

// RecordQueueReplayAction counts a replayed action by outcome
// (delivered, retained, dropped, unhandled).
func RecordQueueReplayAction(outcome string) {
	globalManager.queueReplayActions.WithLabelValues(outcome).Inc()
}

// RecordQueueReplayPass counts a replay pass.
func RecordQueueReplayPass() {
	globalManager.queueReplayPasses.Inc()
}

// UpdateQueueLength sets the offline queue length.
func UpdateQueueLength(n int) {
	globalManager.queueLength.Set(float64(n))
}

// Repository.

// RecordRepositoryLatency observes a repository operation latency.
func RecordRepositoryLatency(operation string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordRepositoryError counts a repository error.
func RecordRepositoryError(operation string) {
	globalManager.repositoryErrors.WithLabelValues(operation).Inc()
}

// HTTP.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
