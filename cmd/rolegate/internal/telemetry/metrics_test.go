package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics()

	m.RecordCacheLookup("hit")
	m.RecordCacheLookup("hit")
	m.RecordCacheLookup("miss")
	m.RecordStoreFailure()
	m.SetCacheEntries(3)
	m.RecordGateDecision("allow")
	m.RecordEmulationOperation("start")
	m.RecordSessionRefresh("fallback")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PermissionCacheRequests.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermissionCacheRequests.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermissionStoreFailures))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.PermissionCacheEntries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GateDecisionsTotal.WithLabelValues("allow")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EmulationOperationsTotal.WithLabelValues("start")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionRefreshTotal.WithLabelValues("fallback")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCacheLookup("hit")
		m.RecordStoreFailure()
		m.SetCacheEntries(1)
		m.RecordGateDecision("deny")
		m.RecordEmulationOperation("stop")
		m.RecordSessionRefresh("ok")
	})
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m := NewMetrics()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/items/{id}", "418")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rolegate_http_requests_total"))
}
