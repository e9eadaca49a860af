// Package metrics provides Prometheus metrics for the festboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Result workflow
	resultTransitions *prometheus.CounterVec
	resultErrors      *prometheus.CounterVec

	// Leaderboard
	materializeLatency prometheus.Histogram
	leaderboardEntries prometheus.Gauge

	// Store
	storeLatency *prometheus.HistogramVec
	storeRetries prometheus.Counter

	// Notifier
	eventsPublished   *prometheus.CounterVec
	eventsDelivered   *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	subscribersActive prometheus.Gauge
	queueDepth        prometheus.Gauge
	relayMessages     *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide metrics singleton

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps Go runtime collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "festboard",
		subsystem:        "core",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.resultTransitions = m.counterVec("result_transitions_total",
		"Committed placement transitions by kind (submitted, approved, rejected, corrected)", "transition")
	m.resultErrors = m.counterVec("result_errors_total",
		"Failed placement operations by operation and error kind", "operation", "kind")

	m.materializeLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "leaderboard_materialize_milliseconds",
		Help:      "Time spent recomputing a ranked leaderboard from approved records",
		Buckets:   m.histogramBuckets,
	})
	m.leaderboardEntries = m.gauge("leaderboard_entries", "Entities present in the last materialized leaderboard")

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_operation_milliseconds",
		Help:      "Result store latency by operation and outcome",
		Buckets:   m.histogramBuckets,
	}, []string{"operation", "outcome"})
	m.storeRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_read_retries_total",
		Help:      "Read retries issued after the store was unavailable",
	})

	m.eventsPublished = m.counterVec("events_published_total", "Channel events accepted for publication", "channel", "event")
	m.eventsDelivered = m.counterVec("events_delivered_total", "Channel events handed to a subscriber sink", "channel")
	m.eventsDropped = m.counterVec("events_dropped_total", "Channel events dropped for one subscriber", "channel", "reason")
	m.deliveryFailures = m.counterVec("delivery_failures_total", "Subscriber sink errors", "channel")
	m.subscribersActive = m.gauge("subscribers_active", "Live notifier subscriptions")
	m.queueDepth = m.gauge("subscriber_queue_depth", "Events waiting across subscriber and relay queues")
	m.relayMessages = m.counterVec("relay_messages_total", "Relay envelopes by direction and outcome", "direction", "outcome")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordResultTransition counts a committed placement transition.
func RecordResultTransition(transition string) {
	globalManager.resultTransitions.WithLabelValues(transition).Inc()
}

// RecordResultError counts a failed placement operation.
func RecordResultError(operation, kind string) {
	globalManager.resultErrors.WithLabelValues(operation, kind).Inc()
}

// RecordMaterializeLatency observes one leaderboard recompute.
func RecordMaterializeLatency(ms float64) {
	globalManager.materializeLatency.Observe(ms)
}

// UpdateLeaderboardEntries sets the size of the last materialized leaderboard.
func UpdateLeaderboardEntries(n int) {
	globalManager.leaderboardEntries.Set(float64(n))
}

// RecordStoreLatency observes one store call.
func RecordStoreLatency(operation, outcome string, ms float64) {
	globalManager.storeLatency.WithLabelValues(operation, outcome).Observe(ms)
}

// RecordStoreRetry counts a retried read.
func RecordStoreRetry() {
	globalManager.storeRetries.Inc()
}

// RecordEventPublished counts an accepted publication.
func RecordEventPublished(channel, event string) {
	globalManager.eventsPublished.WithLabelValues(channel, event).Inc()
}

// RecordEventDelivered counts an event handed to a sink.
func RecordEventDelivered(channel string) {
	globalManager.eventsDelivered.WithLabelValues(channel).Inc()
}

// RecordEventDropped counts an event not delivered to one subscriber.
func RecordEventDropped(channel, reason string) {
	globalManager.eventsDropped.WithLabelValues(channel, reason).Inc()
}

// RecordDeliveryFailure counts a sink error.
func RecordDeliveryFailure(channel string) {
	globalManager.deliveryFailures.WithLabelValues(channel).Inc()
}

// AddSubscribers adjusts the live subscription gauge.
func AddSubscribers(delta int) {
	globalManager.subscribersActive.Add(float64(delta))
}

// AddQueueDepth adjusts the pending event gauge.
func AddQueueDepth(delta int) {
	globalManager.queueDepth.Add(float64(delta))
}

// RecordRelayMessage counts a relay envelope ("out"/"in", "ok"/"error"/"duplicate"/"self").
func RecordRelayMessage(direction, outcome string) {
	globalManager.relayMessages.WithLabelValues(direction, outcome).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
