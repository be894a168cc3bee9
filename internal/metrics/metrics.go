// Package metrics holds the Prometheus collectors for the workflow service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	admissionRejected *prometheus.CounterVec
	externalCalls     *prometheus.CounterVec
	searchCache       *prometheus.CounterVec
	auditFailures     prometheus.Counter
	gatherer          prometheus.Gatherer
}

// New creates the collectors and registers them with reg. When reg is also a
// Gatherer it backs Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_runs_total",
				Help: "Total number of workflow executions",
			},
			[]string{"status", "provider"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "workflow_run_duration_seconds",
				Help:    "Workflow execution duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		admissionRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_admission_rejections_total",
				Help: "Requests rejected by admission control",
			},
			[]string{"class", "reason"},
		),
		externalCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_external_calls_total",
				Help: "Calls to external providers and stores",
			},
			[]string{"backend", "status"},
		),
		searchCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_search_cache_total",
				Help: "Web search cache lookups by result",
			},
			[]string{"result"},
		),
		auditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_audit_write_failures_total",
				Help: "Execution or chat log writes that failed",
			},
		),
	}
	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.runs,
		m.runDuration,
		m.admissionRejected,
		m.externalCalls,
		m.searchCache,
		m.auditFailures,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRun(status, provider string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status, provider).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) AdmissionRejected(class, reason string) {
	if m == nil {
		return
	}
	m.admissionRejected.WithLabelValues(class, reason).Inc()
}

func (m *Metrics) ExternalCall(backend string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.externalCalls.WithLabelValues(backend, status).Inc()
}

// SearchCache counts a cache lookup; it matches search.NewCachedSearcher's observer.
func (m *Metrics) SearchCache(result string) {
	if m == nil {
		return
	}
	m.searchCache.WithLabelValues(result).Inc()
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}
