// Package metrics provides Prometheus metrics for the sheetsync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by several series.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Manager manages all Prometheus metrics for the sync service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Remote API
	remoteRequests        *prometheus.CounterVec
	remoteRequestDuration *prometheus.HistogramVec
	remoteRetries         *prometheus.CounterVec
	tokenRefreshes        *prometheus.CounterVec
	cacheLookups          *prometheus.CounterVec

	// Sync pipeline
	chunksSubmitted   *prometheus.CounterVec
	chunkLatency      prometheus.Histogram
	rowsSynced        prometheus.Counter
	rowsFailed        prometheus.Counter
	rowsDropped       prometheus.Counter
	coercionFallbacks *prometheus.CounterVec
	fieldMatches      *prometheus.CounterVec
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram

	// Job queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	jobsDuplicate      prometheus.Counter

	// Workers
	workerActiveCount prometheus.Gauge
	jobLatency        prometheus.Histogram
	workerErrors      prometheus.Counter

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
		namespace:        "sheetsync",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place to declare every series
	latencyMs := []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

	m.remoteRequests = m.counterVec("remote_requests_total",
		"Remote table API requests by operation and outcome", "operation", "outcome")
	m.remoteRequestDuration = m.histogramVec("remote_request_duration_milliseconds",
		"Remote table API request latency in milliseconds", "operation")
	m.remoteRetries = m.counterVec("remote_retries_total",
		"Remote table API retries by operation and error kind", "operation", "kind")
	m.tokenRefreshes = m.counterVec("token_refreshes_total",
		"Access token exchanges by outcome", "outcome")
	m.cacheLookups = m.counterVec("cache_lookups_total",
		"Schema cache lookups by cache and result", "cache", "result")

	m.chunksSubmitted = m.counterVec("chunks_submitted_total",
		"Batch chunks submitted by outcome", "outcome")
	m.chunkLatency = m.histogram("chunk_latency_milliseconds",
		"Latency of one batch chunk submission in milliseconds", latencyMs)
	m.rowsSynced = m.counter("rows_synced_total", "Rows accepted by the remote table")
	m.rowsFailed = m.counter("rows_failed_total", "Rows rejected by the remote table")
	m.rowsDropped = m.counter("rows_dropped_total", "Rows dropped because no field was populated")
	m.coercionFallbacks = m.counterVec("coercion_fallbacks_total",
		"Cells that coerced through a fallback value, by field kind", "kind")
	m.fieldMatches = m.counterVec("field_matches_total",
		"Source columns matched or left unmatched against the target schema", "result")
	m.runs = m.counterVec("runs_total", "Synchronization runs by final status", "status")
	m.runDuration = m.histogram("run_duration_milliseconds",
		"Duration of a synchronization run in milliseconds", latencyMs)

	m.queueSize = m.gauge("queue_size", "Current number of queued sync jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum number of queued sync jobs")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Sync jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Sync jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Sync jobs rejected by the queue")
	m.jobsDuplicate = m.counter("jobs_duplicate_total", "Submissions answered from the idempotency index")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of running workers")
	m.jobLatency = m.histogram("job_latency_milliseconds",
		"Time a worker spent on one sync job in milliseconds", latencyMs)
	m.workerErrors = m.counter("worker_errors_total", "Sync jobs that finished with an error")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total",
		"Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Errors by endpoint, method and type", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds",
		"Latency of operations that ended in an error", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// RecordRemoteRequest records one remote call attempt.
func RecordRemoteRequest(operation string, ok bool, latencyMs float64) {
	globalManager.remoteRequests.WithLabelValues(operation, outcome(ok)).Inc()
	globalManager.remoteRequestDuration.WithLabelValues(operation).Observe(latencyMs)
}

// RecordRemoteRetry records a retry scheduled after a failed attempt.
func RecordRemoteRetry(operation, kind string) {
	globalManager.remoteRetries.WithLabelValues(operation, kind).Inc()
}

// RecordTokenRefresh records a token exchange.
func RecordTokenRefresh(ok bool) {
	globalManager.tokenRefreshes.WithLabelValues(outcome(ok)).Inc()
}

// RecordCacheLookup records a schema cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.cacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordChunk records one submitted chunk.
func RecordChunk(ok bool, latencyMs float64) {
	globalManager.chunksSubmitted.WithLabelValues(outcome(ok)).Inc()
	globalManager.chunkLatency.Observe(latencyMs)
}

// RecordRows adds per-record outcomes reported by the remote table.
func RecordRows(synced, failed int) {
	globalManager.rowsSynced.Add(float64(synced))
	globalManager.rowsFailed.Add(float64(failed))
}

// RecordRowsDropped adds rows the builder refused to submit.
func RecordRowsDropped(n int) {
	globalManager.rowsDropped.Add(float64(n))
}

// RecordCoercionFallback records a cell that coerced through a fallback.
func RecordCoercionFallback(kind string) {
	globalManager.coercionFallbacks.WithLabelValues(kind).Inc()
}

// RecordFieldMatch records a column match decision.
func RecordFieldMatch(matched bool) {
	result := "unmatched"
	if matched {
		result = "matched"
	}
	globalManager.fieldMatches.WithLabelValues(result).Inc()
}

// RecordRun records a finished run with its status label.
func RecordRun(status string, durationMs float64) {
	globalManager.runs.WithLabelValues(status).Inc()
	globalManager.runDuration.Observe(durationMs)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordJobDuplicate increments the duplicate submission counter.
func RecordJobDuplicate() {
	globalManager.jobsDuplicate.Inc()
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordJobLatency records how long a worker spent on a job.
func RecordJobLatency(latencyMs float64) {
	globalManager.jobLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

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
