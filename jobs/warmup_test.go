package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/dashboard"
	"github.com/mind-edu/mind-insights/internal/identity"
	jobmetrics "github.com/mind-edu/mind-insights/internal/jobs"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/rbac"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

var now = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type warmupEnv struct {
	job   *WarmupJob
	pages *dashboard.Service
	store *identity.Store
	calls *atomic.Int64
}

func newWarmupEnv(t *testing.T, exec warehouse.Executor) *warmupEnv {
	t.Helper()
	ctx := context.Background()
	calls := new(atomic.Int64)
	if exec == nil {
		db, err := warehouse.OpenSQLite(ctx, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, warehouse.Migrate(db))
		require.NoError(t, db.Load(ctx, warehouse.DemoDataset(now)))
		exec = db
	}
	counted := warehouse.ExecutorFunc(func(ctx context.Context, q warehouse.Query) (warehouse.Result, error) {
		calls.Add(1)
		return exec.Run(ctx, q)
	})
	mr := miniredis.RunT(t)
	cached := warehouse.NewCached(counted, redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour, nil)

	logger := slog.New(slog.DiscardHandler)
	runner := analytics.NewService(cached, query.NewBuilder(query.SQLite{}, func() time.Time { return now }), analytics.Options{Logger: logger})
	catalog := dashboard.DefaultCatalog()
	layout, err := dashboard.DefaultLayout(catalog)
	require.NoError(t, err)
	pages, err := dashboard.NewService(layout, catalog, runner, rbac.DefaultService(), dashboard.Config{
		Now:    func() time.Time { return now },
		Logger: logger,
	})
	require.NoError(t, err)
	store, err := identity.Default()
	require.NoError(t, err)

	job := NewWarmupJob(pages, store, logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	return &warmupEnv{job: job, pages: pages, store: store, calls: calls}
}

func TestWarmupFillsQueryCache(t *testing.T) {
	env := newWarmupEnv(t, nil)
	summary, err := env.job.Run(context.Background(), WarmupPayload{})
	require.NoError(t, err)
	require.Positive(t, summary.Pages)
	require.Zero(t, summary.Partial)
	// The admin Student page has no learner without preview mode.
	require.Equal(t, 1, summary.Skipped)

	before := env.calls.Load()
	require.Positive(t, before)

	faculty, ok := env.store.Get("faculty@mind.edu")
	require.True(t, ok)
	_, err = env.pages.Load(context.Background(), faculty, shared.PageFaculty, dashboard.FilterForm{}.Filters(now))
	require.NoError(t, err)
	require.Equal(t, before, env.calls.Load(), "warmed page must be served from cache")
}

func TestWarmupRejectsUnknownRange(t *testing.T) {
	env := newWarmupEnv(t, nil)
	_, err := env.job.Run(context.Background(), WarmupPayload{Ranges: []string{"1y"}})
	require.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewWarmupTask(WarmupPayload{Ranges: []string{"1y"}})
	require.Error(t, err)
}

func TestWarmupAbortsOnLostConnection(t *testing.T) {
	down := warehouse.ExecutorFunc(func(context.Context, warehouse.Query) (warehouse.Result, error) {
		return warehouse.Result{}, &warehouse.ConnectionError{Driver: warehouse.DriverSQLite, Err: errors.New("gone")}
	})
	env := newWarmupEnv(t, down)
	_, err := env.job.Run(context.Background(), WarmupPayload{Ranges: []string{"7d"}})
	require.Error(t, err)
	require.True(t, warehouse.IsConnection(err))
}

func TestHandleDecodesPayload(t *testing.T) {
	env := newWarmupEnv(t, nil)
	raw, err := json.Marshal(WarmupPayload{Ranges: []string{"24h"}})
	require.NoError(t, err)
	require.NoError(t, env.job.Handle(context.Background(), asynq.NewTask(TaskCacheWarmup, raw)))

	err = env.job.Handle(context.Background(), asynq.NewTask(TaskCacheWarmup, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unconfigured *WarmupJob
	require.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskCacheWarmup, raw)))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthHandler(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		res := httptest.NewRecorder()
		r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
		return res
	}

	res := serve(NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, nil))
	require.Equal(t, http.StatusOK, res.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, 3, body.Pending)

	res = serve(NewHandler(stubInspector{err: errors.New("redis down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, res.Code)
}
