// Package metrics provides Prometheus metrics for projecthub.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GitHubCallsTotal    *prometheus.CounterVec
	GitHubCallDuration  *prometheus.HistogramVec
	GitHubRetriesTotal  *prometheus.CounterVec
	LifecycleTotal      *prometheus.CounterVec
	GitHubClientsCached prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "projecthub_http_requests_total",
				Help: "HTTP requests by route, method and status code.",
			},
			[]string{"route", "method", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "projecthub_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		GitHubCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "projecthub_github_calls_total",
				Help: "GitHub API operations by operation and outcome kind.",
			},
			[]string{"op", "outcome"},
		),
		GitHubCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "projecthub_github_call_duration_seconds",
				Help:    "GitHub API operation latency including retries.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"},
		),
		GitHubRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "projecthub_github_retries_total",
				Help: "Retried GitHub API attempts by operation.",
			},
			[]string{"op"},
		),
		LifecycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "projecthub_lifecycle_events_total",
				Help: "Project lifecycle events by type.",
			},
			[]string{"event"},
		),
		GitHubClientsCached: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "projecthub_github_clients_cached",
				Help: "Number of cached GitHub App installation clients.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.HTTPRequestsTotal)
	reg.MustRegister(m.HTTPRequestDuration)
	reg.MustRegister(m.GitHubCallsTotal)
	reg.MustRegister(m.GitHubCallDuration)
	reg.MustRegister(m.GitHubRetriesTotal)
	reg.MustRegister(m.LifecycleTotal)
	reg.MustRegister(m.GitHubClientsCached)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method, code string, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveGitHubCall records one adapter operation.
func (m *Metrics) ObserveGitHubCall(op, outcome string, d time.Duration) {
	m.GitHubCallsTotal.WithLabelValues(op, outcome).Inc()
	m.GitHubCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordGitHubRetry increments the retry counter.
func (m *Metrics) RecordGitHubRetry(op string) {
	m.GitHubRetriesTotal.WithLabelValues(op).Inc()
}

// RecordLifecycle increments the lifecycle event counter.
func (m *Metrics) RecordLifecycle(event string) {
	m.LifecycleTotal.WithLabelValues(event).Inc()
}

// SetGitHubClients sets the cached client count.
func (m *Metrics) SetGitHubClients(n int) {
	m.GitHubClientsCached.Set(float64(n))
}
