// Package metrics exposes the service's Prometheus collectors on a dedicated registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics groups the counters and histograms for event handling, reconciliation,
// Auth Service calls and HTTP requests. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	EventsProcessed    *prometheus.CounterVec
	ReconcileProfiles  *prometheus.CounterVec
	ReconcileRuns      *prometheus.CounterVec
	AuthClientDuration *prometheus.HistogramVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers all collectors, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "user_service_events_processed_total",
			Help: "Domain events consumed, by kind and outcome",
		}, []string{"kind", "outcome"}),
		ReconcileProfiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "user_service_reconcile_profiles_total",
			Help: "Profiles visited by reconciliation, by result",
		}, []string{"result"}),
		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "user_service_reconcile_runs_total",
			Help: "Reconciliation runs, by outcome",
		}, []string{"outcome"}),
		AuthClientDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "user_service_auth_client_request_duration_seconds",
			Help:    "Latency of Auth Service calls",
			Buckets: latencyBuckets,
		}, []string{"operation"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "user_service_http_request_duration_seconds",
			Help:    "Latency of HTTP requests served",
			Buckets: latencyBuckets,
		}, []string{"route", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveEvent counts one consumed event.
func (m *Metrics) ObserveEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(kind, outcome).Inc()
}

// ObserveReconcileProfile counts one profile result (consistent, fixed, inconsistent, failed).
func (m *Metrics) ObserveReconcileProfile(result string) {
	if m == nil {
		return
	}
	m.ReconcileProfiles.WithLabelValues(result).Inc()
}

// ObserveReconcileRun counts one reconciliation run.
func (m *Metrics) ObserveReconcileRun(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(outcome).Inc()
}

// ObserveAuthCall records an Auth Service call started at start.
func (m *Metrics) ObserveAuthCall(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.AuthClientDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records a served request started at start.
func (m *Metrics) ObserveHTTP(route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}
