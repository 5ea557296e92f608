// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payments"

// Metrics owns a registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests   *prometheus.CounterVec
	LatencyMS  *prometheus.HistogramVec
	Callbacks  *prometheus.CounterVec
	Reconciles *prometheus.CounterVec
	Retries    prometheus.Counter
	DeadLetter prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_callbacks_total",
			Help:      "Gateway callbacks by outcome.",
		}, []string{"outcome"}),
		Reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_tasks_total",
			Help:      "Reconciliation tasks by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_retries_total",
			Help:      "Reconciliation attempts retried after a transient error.",
		}),
		DeadLetter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_dead_letters_total",
			Help:      "Reconciliation tasks abandoned to the dead-letter store.",
		}),
	}
	m.registry.MustRegister(
		m.Requests, m.LatencyMS, m.Callbacks, m.Reconciles, m.Retries, m.DeadLetter,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(handler, status string, latencyMS float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, status).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(latencyMS)
}

// CallbackOutcome counts one gateway callback.
func (m *Metrics) CallbackOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(outcome).Inc()
}

// ReconcileOutcome counts one finished reconciliation task.
func (m *Metrics) ReconcileOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Reconciles.WithLabelValues(outcome).Inc()
}

// RetryScheduled counts one retried attempt.
func (m *Metrics) RetryScheduled() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// DeadLettered counts one abandoned task.
func (m *Metrics) DeadLettered() {
	if m == nil {
		return
	}
	m.DeadLetter.Inc()
}
