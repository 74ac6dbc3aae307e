package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the gate, the permission
// resolver and the HTTP server. Create once at startup and share.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission resolver metrics
	PermissionCacheRequests *prometheus.CounterVec
	PermissionStoreFailures prometheus.Counter
	PermissionCacheEntries  prometheus.Gauge

	// Session metrics
	SessionRefreshTotal *prometheus.CounterVec

	// Gate metrics
	GateDecisionsTotal *prometheus.CounterVec

	// Emulation metrics
	EmulationOperationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),

		PermissionCacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_permission_cache_requests_total",
				Help: "Permission cache lookups by result (hit, miss, expired)",
			},
			[]string{"result"},
		),
		PermissionStoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rolegate_permission_store_failures_total",
			Help: "Backing store queries that failed and resolved to an empty set",
		}),
		PermissionCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rolegate_permission_cache_entries",
			Help: "Number of live permission cache entries at the last cleanup",
		}),

		SessionRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_session_refresh_total",
				Help: "Session refresh attempts by result",
			},
			[]string{"result"},
		),

		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_gate_decisions_total",
				Help: "Access gate verdicts",
			},
			[]string{"verdict"},
		),

		EmulationOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_emulation_operations_total",
				Help: "Role emulation operations (start, stop, expired)",
			},
			[]string{"op"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionCacheRequests,
		m.PermissionStoreFailures,
		m.PermissionCacheEntries,
		m.SessionRefreshTotal,
		m.GateDecisionsTotal,
		m.EmulationOperationsTotal,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCacheLookup counts a permission cache lookup result.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.PermissionCacheRequests.WithLabelValues(result).Inc()
}

// RecordStoreFailure counts a failed backing store query.
func (m *Metrics) RecordStoreFailure() {
	if m == nil {
		return
	}
	m.PermissionStoreFailures.Inc()
}

// SetCacheEntries records the live entry count.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.PermissionCacheEntries.Set(float64(n))
}

// RecordGateDecision counts one access gate verdict.
func (m *Metrics) RecordGateDecision(verdict string) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(verdict).Inc()
}

// RecordEmulationOperation counts a start, stop or expiry of an emulation.
func (m *Metrics) RecordEmulationOperation(op string) {
	if m == nil {
		return
	}
	m.EmulationOperationsTotal.WithLabelValues(op).Inc()
}

// RecordSessionRefresh counts a refresh attempt with its result.
func (m *Metrics) RecordSessionRefresh(result string) {
	if m == nil {
		return
	}
	m.SessionRefreshTotal.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency keyed by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
