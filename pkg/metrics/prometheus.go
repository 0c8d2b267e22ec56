// Package metrics provides Prometheus metrics for the gather ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the gather service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion metrics
	sourceFetches     *prometheus.CounterVec
	sourceFetchTime   *prometheus.HistogramVec
	recordsNormalized *prometheus.CounterVec
	recordsRejected   *prometheus.CounterVec

	// Spawner metrics
	spawnerActiveWorkers prometheus.Gauge
	spawnerQueueSize     prometheus.Gauge
	spawnerAttempts      prometheus.Counter
	spawnerRetries       prometheus.Counter
	spawnerTimeouts      prometheus.Counter
	spawnerTasks         *prometheus.CounterVec
	spawnerTaskLatency   prometheus.Histogram

	// Queue metrics
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Deduplication metrics
	dedupeComparisons  prometheus.Counter
	dedupeCandidates   prometheus.Counter
	dedupeClusters     *prometheus.CounterVec
	dedupeSkipped      prometheus.Counter
	dedupeCacheLookups *prometheus.CounterVec
	dedupeLatency      prometheus.Histogram

	// Repository metrics
	storeRecordsTotal  prometheus.Gauge
	storeUpdateLatency prometheus.Histogram
	storeQueryLatency  prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
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
		namespace:        "gather",
		subsystem:        "",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
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
	constLabels := prometheus.Labels(m.customLabels)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
			Buckets: m.histogramBuckets,
		})
	}
	histogramVec := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
			Buckets: m.histogramBuckets,
		}, labels)
	}

	// Ingestion
	m.sourceFetches = counterVec("source_fetches_total", "Source fetch task outcomes by source and status", "source", "status")
	m.sourceFetchTime = histogramVec("source_fetch_duration_milliseconds", "Source fetch duration in milliseconds", "source")
	m.recordsNormalized = counterVec("records_normalized_total", "Raw records normalized into canonical events", "source")
	m.recordsRejected = counterVec("records_rejected_total", "Raw records rejected by the normalizer", "source", "reason")

	// Spawner
	m.spawnerActiveWorkers = gauge("spawner_active_workers", "Workers currently in running state")
	m.spawnerQueueSize = gauge("spawner_queue_size", "Tasks waiting for a free worker slot")
	m.spawnerAttempts = counter("spawner_attempts_total", "Task attempts started")
	m.spawnerRetries = counter("spawner_retries_total", "Task retries scheduled after a failed attempt")
	m.spawnerTimeouts = counter("spawner_timeouts_total", "Task attempts that exceeded the timeout")
	m.spawnerTasks = counterVec("spawner_tasks_total", "Tasks reaching a terminal state by status", "status")
	m.spawnerTaskLatency = histogram("spawner_task_duration_milliseconds", "Task duration including retries in milliseconds")

	// Queue
	m.queueCapacity = gauge("queue_capacity", "Configured task queue capacity (0 = unbounded)")
	m.queueEnqueueRate = counter("queue_enqueued_total", "Tasks pushed onto the queue")
	m.queueDequeueRate = counter("queue_dequeued_total", "Tasks popped from the queue")
	m.queueEnqueueErrors = counter("queue_enqueue_errors_total", "Tasks rejected by a full or closed queue")

	// Deduplication
	m.dedupeComparisons = counter("dedupe_comparisons_total", "Pairwise similarity comparisons performed")
	m.dedupeCandidates = counter("dedupe_candidate_pairs_total", "Pairs passing the duplicate thresholds")
	m.dedupeClusters = counterVec("dedupe_clusters_total", "Duplicate clusters by outcome", "outcome")
	m.dedupeSkipped = counter("dedupe_skipped_total", "Events excluded from clustering")
	m.dedupeCacheLookups = counterVec("dedupe_cache_lookups_total", "Dedupe cache lookups by cache and result", "cache", "result")
	m.dedupeLatency = histogram("dedupe_batch_duration_milliseconds", "Dedupe batch processing duration in milliseconds")

	// Repository
	m.storeRecordsTotal = gauge("store_records_total", "Events tracked by the store")
	m.storeUpdateLatency = histogram("store_update_latency_milliseconds", "Store write latency in milliseconds")
	m.storeQueryLatency = histogram("store_query_latency_milliseconds", "Store read latency in milliseconds")

	// HTTP
	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	// Errors
	m.errorRateByComponent = counterVec("errors_by_component_total", "Total number of errors by component",
		"component", "error_type")
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "Total number of errors by endpoint",
		"endpoint", "method", "error_type")

	// System
	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
}

// Ingestion Metrics Functions.

// RecordSourceFetch records a source fetch outcome and its duration.
func RecordSourceFetch(source, status string, latencyMs float64) {
	globalManager.sourceFetches.WithLabelValues(source, status).Inc()
	globalManager.sourceFetchTime.WithLabelValues(source).Observe(latencyMs)
}

// RecordRecordsNormalized adds n normalized records for a source.
func RecordRecordsNormalized(source string, n int) {
	globalManager.recordsNormalized.WithLabelValues(source).Add(float64(n))
}

// RecordRecordRejected increments rejected records for a source and reason.
func RecordRecordRejected(source, reason string) {
	globalManager.recordsRejected.WithLabelValues(source, reason).Inc()
}

// Spawner Metrics Functions.

// UpdateSpawnerActiveWorkers sets the running worker gauge.
func UpdateSpawnerActiveWorkers(count int) {
	globalManager.spawnerActiveWorkers.Set(float64(count))
}

// UpdateSpawnerQueueSize sets the queued task gauge.
func UpdateSpawnerQueueSize(size int) {
	globalManager.spawnerQueueSize.Set(float64(size))
}

// RecordSpawnerAttempt increments the attempt counter.
func RecordSpawnerAttempt() {
	globalManager.spawnerAttempts.Inc()
}

// RecordSpawnerRetry increments the retry counter.
func RecordSpawnerRetry() {
	globalManager.spawnerRetries.Inc()
}

// RecordSpawnerTimeout increments the timeout counter.
func RecordSpawnerTimeout() {
	globalManager.spawnerTimeouts.Inc()
}

// RecordSpawnerTask records a terminal task state and its total duration.
func RecordSpawnerTask(status string, latencyMs float64) {
	globalManager.spawnerTasks.WithLabelValues(status).Inc()
	globalManager.spawnerTaskLatency.Observe(latencyMs)
}

// Queue Metrics Functions.

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
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

// Deduplication Metrics Functions.

// RecordDedupeComparisons adds n pairwise comparisons.
func RecordDedupeComparisons(n int) {
	globalManager.dedupeComparisons.Add(float64(n))
}

// RecordDedupeCandidates adds n candidate pairs.
func RecordDedupeCandidates(n int) {
	globalManager.dedupeCandidates.Add(float64(n))
}

// RecordDedupeCluster increments clusters for an outcome (auto_merge, needs_manual_review, discarded).
func RecordDedupeCluster(outcome string) {
	globalManager.dedupeClusters.WithLabelValues(outcome).Inc()
}

// RecordDedupeSkipped adds n events excluded from clustering.
func RecordDedupeSkipped(n int) {
	globalManager.dedupeSkipped.Add(float64(n))
}

// RecordDedupeCacheLookup records a cache hit or miss.
func RecordDedupeCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.dedupeCacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordDedupeLatency records the duration of one dedupe batch.
func RecordDedupeLatency(latencyMs float64) {
	globalManager.dedupeLatency.Observe(latencyMs)
}

// Repository Metrics Functions.

// UpdateStoreRecordsTotal sets the number of events tracked by the store.
func UpdateStoreRecordsTotal(count int) {
	globalManager.storeRecordsTotal.Set(float64(count))
}

// RecordStoreUpdateLatency records store write latency.
func RecordStoreUpdateLatency(latencyMs float64) {
	globalManager.storeUpdateLatency.Observe(latencyMs)
}

// RecordStoreQueryLatency records store read latency.
func RecordStoreQueryLatency(latencyMs float64) {
	globalManager.storeQueryLatency.Observe(latencyMs)
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the registry served on /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Configure rebuilds the global manager from opts on a fresh registry. It is
// meant for process startup, before anything is recorded or served.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	m := NewManager(append(opts, WithPrometheusRegistry(registry))...)
	if !m.enabled {
		registry = prometheus.NewRegistry()
	}
	globalManager, customRegistry = m, registry
}

// RefreshInterval is how often background gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}
