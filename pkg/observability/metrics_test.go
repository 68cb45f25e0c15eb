package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.BuildInfo.WithLabelValues("dev", "memory").Set(1)
	m.ObserveStorage("set", "memory", time.Millisecond, "")

	families, err := registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.True(t, strings.HasPrefix(f.GetName(), "isotrack_"), f.GetName())
	}

	// registering twice on the same registry panics
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_ObserveStorage(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveStorage("set", "redis", 2*time.Millisecond, "")
	m.ObserveStorage("set", "redis", 3*time.Millisecond, "capacity")
	m.ObserveStorage("get", "redis", time.Millisecond, "")
	m.ObserveValueSize("redis", 2048)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("set", "redis", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("set", "redis", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageErrorsTotal.WithLabelValues("set", "redis", "capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("get", "redis", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StorageValueBytes))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStorage("get", "file", time.Millisecond, "other")
		m.ObserveValueSize("file", 10)
	})
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, 5, rw.bytesWritten)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/audit/entities/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"entries":[]}`))
	}).Methods("GET")
	router.HandleFunc("/audit/entries", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}).Methods("POST")

	for _, id := range []string{"p1", "p2", "p3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/audit/entities/project/"+id, nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/audit/entries", strings.NewReader(`{"action":"delete"}`)))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/audit/entities/{type}/{id}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/audit/entries", "201")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPInFlight))
	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPRequestDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestSize))
}

func TestHTTPMetricsMiddleware_WithoutRouter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/missing", "404")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.BuildInfo.WithLabelValues("1.2.3", "redis").Set(1)

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rec := httptest.NewRecorder()
	serveMux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `isotrack_build_info{storage_backend="redis",version="1.2.3"} 1`)
}
