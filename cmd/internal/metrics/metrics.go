// Package metrics owns the Prometheus collectors for the service.
//
// A nil *Metrics is valid and records nothing, so components can be
// constructed in tests without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Restore outcomes.
const (
	RestoreCreated   = "created"
	RestoreRotated   = "rotated"
	RestoreUnchanged = "unchanged"
)

// Metrics groups every collector registered by the service.
type Metrics struct {
	reg *prometheus.Registry

	restores      *prometheus.CounterVec
	privateChecks *prometheus.CounterVec
	authEvents    *prometheus.CounterVec
	alertClients  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		restores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itl",
			Name:      "restore_total",
			Help:      "Session restore calls by outcome.",
		}, []string{"outcome"}),
		privateChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itl",
			Name:      "private_access_checks_total",
			Help:      "Private access decisions by result.",
		}, []string{"result"}),
		authEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itl",
			Name:      "auth_events_total",
			Help:      "Auth audit events by action.",
		}, []string{"action"}),
		alertClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "itl",
			Name:      "alert_stream_clients",
			Help:      "Connected alert stream websockets.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itl",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "itl",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Restore(outcome string) {
	if m == nil {
		return
	}
	m.restores.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PrivateAccess(granted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.privateChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) AuthEvent(action string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(action).Inc()
}

func (m *Metrics) AlertClients(delta float64) {
	if m == nil {
		return
	}
	m.alertClients.Add(delta)
}

func (m *Metrics) HTTPRequest(method, class string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, class).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}
