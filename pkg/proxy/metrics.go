package proxy

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Document outcomes reported by documents_total.
const (
	OutcomeRewritten = "rewritten"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
	OutcomeTooLarge  = "too_large"
	OutcomeFailed    = "failed"
)

// Metrics holds all Prometheus metrics for the rewriting proxy
type Metrics struct {
	// Document metrics
	documentsTotal  *prometheus.CounterVec
	unitsRewritten  prometheus.Counter
	rewriteDuration prometheus.Histogram

	// Upstream metrics
	upstreamErrors prometheus.Counter

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		documentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gulfwatch_documents_total",
				Help: "Total number of proxied documents by outcome",
			},
			[]string{"outcome"},
		),

		unitsRewritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gulfwatch_units_rewritten_total",
				Help: "Total number of text units rewritten in proxied documents",
			},
		),

		rewriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gulfwatch_rewrite_duration_seconds",
				Help:    "Time spent parsing, rewriting and rendering a document",
				Buckets: prometheus.DefBuckets,
			},
		),

		upstreamErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gulfwatch_upstream_errors_total",
				Help: "Total number of failed upstream round trips",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gulfwatch_http_requests_total",
				Help: "Total number of HTTP requests by method and status code",
			},
			[]string{"method", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gulfwatch_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.documentsTotal,
		m.unitsRewritten,
		m.rewriteDuration,
		m.upstreamErrors,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordDocument records the outcome of one proxied document
func (m *Metrics) RecordDocument(outcome string, rewritten int, duration time.Duration) {
	m.documentsTotal.WithLabelValues(outcome).Inc()
	if rewritten > 0 {
		m.unitsRewritten.Add(float64(rewritten))
	}
	if duration > 0 {
		m.rewriteDuration.Observe(duration.Seconds())
	}
}

// RecordUpstreamError records a failed upstream round trip
func (m *Metrics) RecordUpstreamError() {
	m.upstreamErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates HTTP middleware that records request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support http.Hijacker")
}
