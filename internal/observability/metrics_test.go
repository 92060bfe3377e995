package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

var _ warehouse.Recorder = (*Metrics)(nil)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesRuntimeMetrics(t *testing.T) {
	body := scrape(t, NewMetrics())
	require.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/dashboard/{page}")
	req := httptest.NewRequest(http.MethodGet, "/dashboard/Faculty", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `mind_http_requests_total{code="418",route="/dashboard/{page}"} 1`)
	require.Contains(t, body, `mind_http_request_duration_seconds_bucket{route="/dashboard/{page}"`)
}

func TestObserveQuery(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveQuery("class_average", warehouse.OutcomeOK, 120*time.Millisecond)
	metrics.ObserveQuery("class_average", warehouse.OutcomeOK, 80*time.Millisecond)
	metrics.ObserveQuery("", warehouse.OutcomeQueryError, time.Second)

	body := scrape(t, metrics)
	require.Contains(t, body, `mind_warehouse_queries_total{outcome="ok",query="class_average"} 2`)
	require.Contains(t, body, `mind_warehouse_queries_total{outcome="query_error",query="unnamed"} 1`)

	var nilMetrics *Metrics
	require.NotPanics(t, func() { nilMetrics.ObserveQuery("x", "ok", time.Second) })
}
