package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Promise lifecycle metrics
	promisesCreated prometheus.Counter
	promisesSettled *prometheus.CounterVec
	promisesPending prometheus.Gauge

	// Dispatch metrics
	callbacksExecuted *prometheus.CounterVec
	handlesExecuted   *prometheus.CounterVec
	dispatchDuration  prometheus.Histogram

	// Resolution metrics
	nestingDepth prometheus.Histogram
	childFanIn   prometheus.Histogram

	// Transport metrics
	transportRejected   prometheus.Counter
	resolverTransferred prometheus.Counter
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,

		promisesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "promises_created_total",
				Help:      "Total number of promises minted",
			},
		),
		promisesSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "promises_settled_total",
				Help:      "Total number of promises settled terminally",
			},
			[]string{"status"},
		),
		promisesPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "promises_pending",
				Help:      "Current number of unsettled promises",
			},
		),
		callbacksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callbacks_executed_total",
				Help:      "Total number of continuation invocations",
			},
			[]string{"key", "result"},
		),
		handlesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handles_executed_total",
				Help:      "Total number of destination-side handle invocations",
			},
			[]string{"action", "result"},
		),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Wall time of a full dispatch run",
				Buckets:   prometheus.DefBuckets,
			},
		),
		nestingDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "nesting_depth",
				Help:      "Flattening depth observed when nested chains settle",
				Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20},
			},
		),
		childFanIn: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "child_fan_in",
				Help:      "Child count of settling parent promises",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		transportRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_rejected_total",
				Help:      "Total number of relayed events that failed oracle validation",
			},
		),
		resolverTransferred: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_transferred_total",
				Help:      "Total number of resolver rights moves",
			},
		),
	}

	registry.MustRegister(
		m.promisesCreated,
		m.promisesSettled,
		m.promisesPending,
		m.callbacksExecuted,
		m.handlesExecuted,
		m.dispatchDuration,
		m.nestingDepth,
		m.childFanIn,
		m.transportRejected,
		m.resolverTransferred,
	)

	return m
}

// PromiseCreated implements Metrics.
func (m *PrometheusMetrics) PromiseCreated() {
	m.promisesCreated.Inc()
}

// PromiseSettled implements Metrics.
func (m *PrometheusMetrics) PromiseSettled(status string) {
	m.promisesSettled.WithLabelValues(status).Inc()
}

// SetPendingPromises implements Metrics.
func (m *PrometheusMetrics) SetPendingPromises(n int) {
	m.promisesPending.Set(float64(n))
}

// CallbackExecuted implements Metrics.
func (m *PrometheusMetrics) CallbackExecuted(key string, ok bool) {
	m.callbacksExecuted.WithLabelValues(key, resultLabel(ok)).Inc()
}

// HandleExecuted implements Metrics.
func (m *PrometheusMetrics) HandleExecuted(action string, ok bool) {
	m.handlesExecuted.WithLabelValues(action, resultLabel(ok)).Inc()
}

// DispatchDuration implements Metrics.
func (m *PrometheusMetrics) DispatchDuration(d time.Duration) {
	m.dispatchDuration.Observe(d.Seconds())
}

// NestingDepth implements Metrics.
func (m *PrometheusMetrics) NestingDepth(depth int) {
	m.nestingDepth.Observe(float64(depth))
}

// ChildFanIn implements Metrics.
func (m *PrometheusMetrics) ChildFanIn(n int) {
	m.childFanIn.Observe(float64(n))
}

// TransportRejected implements Metrics.
func (m *PrometheusMetrics) TransportRejected() {
	m.transportRejected.Inc()
}

// ResolverTransferred implements Metrics.
func (m *PrometheusMetrics) ResolverTransferred() {
	m.resolverTransferred.Inc()
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Ensure PrometheusMetrics implements Metrics.
var _ Metrics = (*PrometheusMetrics)(nil)
