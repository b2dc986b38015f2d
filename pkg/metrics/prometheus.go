// Package metrics provides Prometheus metrics for the admission service.
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

// Admission outcome labels.
const (
	OutcomeConfirmed        = "confirmed"
	OutcomeWaitlisted       = "waitlisted"
	OutcomeDeclined         = "declined"
	OutcomeRemoved          = "removed"
	OutcomeUnchanged        = "unchanged"
	OutcomeCapacityExceeded = "capacity_exceeded"
	OutcomeWaitlistClosed   = "waitlist_closed"
	OutcomeUnavailable      = "store_unavailable"
	OutcomeError            = "error"
)

// Manager manages all Prometheus metrics for the admission service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Admission decisions
	admissionDecisions *prometheus.CounterVec
	admissionLatency   prometheus.Histogram
	txConflicts        prometheus.Counter
	txRetries          prometheus.Counter
	txRetryExhausted   prometheus.Counter
	countClamps        prometheus.Counter
	tierFallbacks      *prometheus.CounterVec

	// Waitlist maintenance
	waitlistRenumbers prometheus.Counter
	waitlistRecalcs   prometheus.Counter
	reconciliations   *prometheus.CounterVec

	// Store
	storeTxLatency *prometheus.HistogramVec

	// Promotion signalling
	signalsEmitted   prometheus.Counter
	signalsCoalesced prometheus.Counter
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueDropped     prometheus.Counter

	// Promotion workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	promotions              *prometheus.CounterVec
	notifications           *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "admit",
		subsystem:        "rsvp",
		histogramBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// Enabled reports whether recording is active.
func (m *Manager) Enabled() bool { return m.enabled }

// RefreshInterval is how often gauge updaters should sample.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

//nolint:funlen // one place for every collector
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.admissionDecisions = auto.NewCounterVec(
		m.counterOpts("admission_decisions_total", "Status change requests by outcome"),
		[]string{"outcome"},
	)
	m.admissionLatency = auto.NewHistogram(
		m.histogramOpts("admission_latency_milliseconds", "End to end latency of a status change including retries", m.histogramBuckets),
	)
	m.txConflicts = auto.NewCounter(
		m.counterOpts("tx_conflicts_total", "Transaction attempts that lost an optimistic or serialization race"),
	)
	m.txRetries = auto.NewCounter(
		m.counterOpts("tx_retries_total", "Transaction attempts re-run after a conflict"),
	)
	m.txRetryExhausted = auto.NewCounter(
		m.counterOpts("tx_retry_exhausted_total", "Status changes that failed after the final retry"),
	)
	m.countClamps = auto.NewCounter(
		m.counterOpts("confirmed_count_clamps_total", "Decrements that would have driven the confirmed count below zero"),
	)
	m.tierFallbacks = auto.NewCounterVec(
		m.counterOpts("tier_lookup_fallbacks_total", "Tier lookups that fell back to the default tier"),
		[]string{"reason"},
	)

	m.waitlistRenumbers = auto.NewCounter(
		m.counterOpts("waitlist_renumbers_total", "Waitlist resequencing passes run after a record left the waitlist"),
	)
	m.waitlistRecalcs = auto.NewCounter(
		m.counterOpts("waitlist_recalculations_total", "Explicit waitlist recalculation requests"),
	)
	m.reconciliations = auto.NewCounterVec(
		m.counterOpts("confirmed_count_reconciliations_total", "Confirmed count reconciliations by result"),
		[]string{"result"},
	)

	m.storeTxLatency = auto.NewHistogramVec(
		m.histogramOpts("store_tx_latency_milliseconds", "Latency of a single store transaction attempt", m.histogramBuckets),
		[]string{"backend"},
	)

	m.signalsEmitted = auto.NewCounter(
		m.counterOpts("promotion_signals_total", "Slot freed facts handed to the promotion queue"),
	)
	m.signalsCoalesced = auto.NewCounter(
		m.counterOpts("promotion_signals_coalesced_total", "Slot freed facts folded into an already pending signal"),
	)
	m.queueSize = auto.NewGauge(
		m.gaugeOpts("promotion_queue_size", "Current number of pending promotion signals"),
	)
	m.queueCapacity = auto.NewGauge(
		m.gaugeOpts("promotion_queue_capacity", "Maximum number of pending promotion signals"),
	)
	m.queueDropped = auto.NewCounter(
		m.counterOpts("promotion_queue_dropped_total", "Promotion signals rejected because the queue was full or closed"),
	)

	m.workerCount = auto.NewGauge(
		m.gaugeOpts("promotion_worker_count", "Configured number of promotion workers"),
	)
	m.workerProcessingLatency = auto.NewHistogram(
		m.histogramOpts("promotion_processing_latency_milliseconds", "Time spent handling one promotion signal", m.histogramBuckets),
	)
	m.promotions = auto.NewCounterVec(
		m.counterOpts("promotions_total", "Promotion attempts by result"),
		[]string{"result"},
	)
	m.notifications = auto.NewCounterVec(
		m.counterOpts("promotion_notifications_total", "Promotion notifications by result"),
		[]string{"result"},
	)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorsByComponent = auto.NewCounterVec(
		m.counterOpts("errors_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(
		m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"),
	)
	m.systemGoroutineCount = auto.NewGauge(
		m.gaugeOpts("system_goroutine_count", "Number of goroutines"),
	)
	m.systemGCPauseTime = auto.NewHistogram(
		m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}),
	)
}

// RecordAdmission counts one status change decision.
func (m *Manager) RecordAdmission(outcome string) {
	if m.enabled {
		m.admissionDecisions.WithLabelValues(outcome).Inc()
	}
}

// RecordAdmissionLatency records end-to-end status change latency in milliseconds.
func (m *Manager) RecordAdmissionLatency(latencyMs float64) {
	if m.enabled {
		m.admissionLatency.Observe(latencyMs)
	}
}

// RecordConflict counts one lost transaction race.
func (m *Manager) RecordConflict() {
	if m.enabled {
		m.txConflicts.Inc()
	}
}

// RecordRetry counts one re-run attempt.
func (m *Manager) RecordRetry() {
	if m.enabled {
		m.txRetries.Inc()
	}
}

// RecordRetryExhausted counts a change that gave up after the last attempt.
func (m *Manager) RecordRetryExhausted() {
	if m.enabled {
		m.txRetryExhausted.Inc()
	}
}

// RecordCountClamp counts a decrement clamped at zero.
func (m *Manager) RecordCountClamp() {
	if m.enabled {
		m.countClamps.Inc()
	}
}

// RecordTierFallback counts a tier lookup that used the default tier.
func (m *Manager) RecordTierFallback(reason string) {
	if m.enabled {
		m.tierFallbacks.WithLabelValues(reason).Inc()
	}
}

// RecordWaitlistRenumber counts a resequencing pass.
func (m *Manager) RecordWaitlistRenumber() {
	if m.enabled {
		m.waitlistRenumbers.Inc()
	}
}

// RecordWaitlistRecalc counts an explicit recalculation.
func (m *Manager) RecordWaitlistRecalc() {
	if m.enabled {
		m.waitlistRecalcs.Inc()
	}
}

// RecordReconciliation counts a confirmed count reconciliation.
func (m *Manager) RecordReconciliation(result string) {
	if m.enabled {
		m.reconciliations.WithLabelValues(result).Inc()
	}
}

// RecordStoreTxLatency records one transaction attempt against backend.
func (m *Manager) RecordStoreTxLatency(backend string, latencyMs float64) {
	if m.enabled {
		m.storeTxLatency.WithLabelValues(backend).Observe(latencyMs)
	}
}

// RecordSignalEmitted counts a slot freed fact accepted by the queue.
func (m *Manager) RecordSignalEmitted() {
	if m.enabled {
		m.signalsEmitted.Inc()
	}
}

// RecordSignalCoalesced counts a slot freed fact folded into a pending one.
func (m *Manager) RecordSignalCoalesced() {
	if m.enabled {
		m.signalsCoalesced.Inc()
	}
}

// RecordQueueDropped counts a signal that could not be enqueued.
func (m *Manager) RecordQueueDropped() {
	if m.enabled {
		m.queueDropped.Inc()
	}
}

// UpdateQueueSize sets the current queue size.
func (m *Manager) UpdateQueueSize(size int) {
	if m.enabled {
		m.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func (m *Manager) UpdateQueueCapacity(capacity int) {
	if m.enabled {
		m.queueCapacity.Set(float64(capacity))
	}
}

// UpdateWorkerCount sets the current worker count.
func (m *Manager) UpdateWorkerCount(count int) {
	if m.enabled {
		m.workerCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records how long one signal took.
func (m *Manager) RecordWorkerProcessingLatency(latencyMs float64) {
	if m.enabled {
		m.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordPromotion counts a promotion attempt by result.
func (m *Manager) RecordPromotion(result string) {
	if m.enabled {
		m.promotions.WithLabelValues(result).Inc()
	}
}

// RecordNotification counts a notification by result.
func (m *Manager) RecordNotification(result string) {
	if m.enabled {
		m.notifications.WithLabelValues(result).Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Manager) RecordHTTPRequest(endpoint, method, statusCode string) {
	if m.enabled {
		m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func (m *Manager) RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if m.enabled {
		m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordErrorByComponent records an error with component and type labels.
func (m *Manager) RecordErrorByComponent(component, errorType string) {
	if m.enabled {
		m.errorsByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func (m *Manager) UpdateSystemMemoryUsage(bytes uint64) {
	if m.enabled {
		m.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func (m *Manager) UpdateSystemGoroutineCount(count int) {
	if m.enabled {
		m.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func (m *Manager) RecordSystemGCPauseTime(pauseMs float64) {
	if m.enabled {
		m.systemGCPauseTime.Observe(pauseMs)
	}
}

// Package-level helpers forward to the global manager.

func RecordAdmission(outcome string)           { globalManager.RecordAdmission(outcome) }
func RecordAdmissionLatency(latencyMs float64) { globalManager.RecordAdmissionLatency(latencyMs) }
func RecordConflict()                          { globalManager.RecordConflict() }
func RecordRetry()                             { globalManager.RecordRetry() }
func RecordRetryExhausted()                    { globalManager.RecordRetryExhausted() }
func RecordCountClamp()                        { globalManager.RecordCountClamp() }
func RecordTierFallback(reason string)         { globalManager.RecordTierFallback(reason) }
func RecordWaitlistRenumber()                  { globalManager.RecordWaitlistRenumber() }
func RecordWaitlistRecalc()                    { globalManager.RecordWaitlistRecalc() }
func RecordReconciliation(result string)       { globalManager.RecordReconciliation(result) }
func RecordSignalEmitted()                     { globalManager.RecordSignalEmitted() }
func RecordSignalCoalesced()                   { globalManager.RecordSignalCoalesced() }
func RecordQueueDropped()                      { globalManager.RecordQueueDropped() }
func UpdateQueueSize(size int)                 { globalManager.UpdateQueueSize(size) }
func UpdateQueueCapacity(capacity int)         { globalManager.UpdateQueueCapacity(capacity) }
func UpdateWorkerCount(count int)              { globalManager.UpdateWorkerCount(count) }
func RecordPromotion(result string)            { globalManager.RecordPromotion(result) }
func RecordNotification(result string)         { globalManager.RecordNotification(result) }
func UpdateSystemGoroutineCount(count int)     { globalManager.UpdateSystemGoroutineCount(count) }
func UpdateSystemMemoryUsage(bytes uint64)     { globalManager.UpdateSystemMemoryUsage(bytes) }
func RecordSystemGCPauseTime(pauseMs float64)  { globalManager.RecordSystemGCPauseTime(pauseMs) }

func RecordStoreTxLatency(backend string, latencyMs float64) {
	globalManager.RecordStoreTxLatency(backend, latencyMs)
}

func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.RecordWorkerProcessingLatency(latencyMs)
}

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.RecordHTTPRequest(endpoint, method, statusCode)
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.RecordHTTPRequestDuration(endpoint, method, statusCode, duration)
}

func RecordErrorByComponent(component, errorType string) {
	globalManager.RecordErrorByComponent(component, errorType)
}

// RefreshInterval is the sampling interval of the global manager.
func RefreshInterval() time.Duration { return globalManager.RefreshInterval() }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
