package dashboardhttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/analytics/export"
	"github.com/mind-edu/mind-insights/internal/auth"
	"github.com/mind-edu/mind-insights/internal/dashboard"
	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/rbac"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/view"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

var now = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type stubFlusher struct {
	calls int
	err   error
}

func (s *stubFlusher) Bump(context.Context) (int64, error) {
	s.calls++
	return int64(s.calls), s.err
}

type testEnv struct {
	router  chi.Router
	store   *identity.Store
	sess    *shared.Session
	flusher *stubFlusher
	ident   *identity.Identity
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := warehouse.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, warehouse.Migrate(db))
	require.NoError(t, db.Load(ctx, warehouse.DemoDataset(now)))

	logger := slog.New(slog.DiscardHandler)
	runner := analytics.NewService(db, query.NewBuilder(query.SQLite{}, func() time.Time { return now }), analytics.Options{Logger: logger})
	catalog := dashboard.DefaultCatalog()
	layout, err := dashboard.DefaultLayout(catalog)
	require.NoError(t, err)
	access := rbac.DefaultService()
	pages, err := dashboard.NewService(layout, catalog, runner, access, dashboard.Config{
		Now:    func() time.Time { return now },
		Logger: logger,
	})
	require.NoError(t, err)

	templates, err := view.NewEngine()
	require.NoError(t, err)
	store, err := identity.Default()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	sm := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test_session", "secret", time.Hour, false)
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	env := &testEnv{store: store, sess: sess, flusher: &stubFlusher{}}
	handler := NewHandler(Params{
		Logger:     logger,
		Pages:      pages,
		Templates:  templates,
		CSRF:       shared.NewCSRFManager("csrfsecret"),
		Access:     access,
		Flusher:    env.flusher,
		Identities: store,
	})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			reqCtx := shared.ContextWithSession(req.Context(), env.sess)
			if env.ident != nil {
				reqCtx = auth.ContextWithIdentity(reqCtx, *env.ident)
			}
			next.ServeHTTP(w, req.WithContext(reqCtx))
		})
	})
	handler.MountRoutes(r)
	env.router = r
	return env
}

func (e *testEnv) signIn(t *testing.T, key string) {
	t.Helper()
	ident, ok := e.store.Get(key)
	require.True(t, ok, key)
	e.ident = &ident
	e.sess.SetUser(ident.Key)
	e.sess.SetRole(string(ident.Role))
}

func (e *testEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	res := httptest.NewRecorder()
	e.router.ServeHTTP(res, req)
	return res
}

func TestAnonymousIsRedirectedToLogin(t *testing.T) {
	env := newTestEnv(t)
	res := env.do(http.MethodGet, "/dashboard/Faculty", nil)
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/auth/login", res.Header().Get("Location"))

	res = env.do(http.MethodGet, "/api/pages/Faculty", nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHomeRedirectsToRolePage(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "student@mind.edu")
	res := env.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/dashboard/Student", res.Header().Get("Location"))
}

func TestFacultyPageRenders(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "faculty@mind.edu")
	res := env.do(http.MethodGet, "/dashboard/Faculty", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	require.Contains(t, body, `id="widget-student_roster"`)
	require.Contains(t, body, `/dashboard/Faculty/widgets/at_risk.csv`)
	require.Contains(t, body, `name="threshold"`)
	require.NotContains(t, body, `name="trace_id"`)
	require.Contains(t, body, `href="/dashboard/Faculty"`)
	require.NotContains(t, body, `href="/dashboard/Admin"`)
}

func TestDeniedPageRendersForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "faculty@mind.edu")
	res := env.do(http.MethodGet, "/dashboard/Admin", nil)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Contains(t, res.Body.String(), "Access denied")

	res = env.do(http.MethodGet, "/dashboard/Nowhere", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestAdminStudentPageWithoutLearnerShowsConfigMessage(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "admin@mind.edu")
	res := env.do(http.MethodGet, "/dashboard/Student", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "Select a learner to open the Student page.")
}

func TestFilterSubmission(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "faculty@mind.edu")

	res := env.do(http.MethodPost, "/dashboard/Faculty/filters", url.Values{"range": {"7d"}, "threshold": {"70"}})
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/dashboard/Faculty", res.Header().Get("Location"))
	require.Equal(t, map[string]string{"range": "7d", "threshold": "70"}, env.sess.Filters(shared.PageFaculty))

	res = env.do(http.MethodPost, "/dashboard/Faculty/filters", url.Values{"threshold": {"500"}})
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, map[string]string{"range": "7d", "threshold": "70"}, env.sess.Filters(shared.PageFaculty))

	page := env.do(http.MethodGet, "/dashboard/Faculty", nil)
	require.Contains(t, page.Body.String(), "Invalid value for threshold.")

	res = env.do(http.MethodPost, "/dashboard/Faculty/filters", url.Values{"reset": {"1"}})
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Empty(t, env.sess.Filters(shared.PageFaculty))
}

func TestPageJSON(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "dev@mind.edu")
	res := env.do(http.MethodGet, "/api/pages/Developer", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var payload struct {
		Page    string `json:"page"`
		Widgets []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"widgets"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload))
	require.Equal(t, shared.PageDeveloper, payload.Page)
	require.NotEmpty(t, payload.Widgets)

	res = env.do(http.MethodGet, "/api/pages/Admin", nil)
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestCSVExport(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "faculty@mind.edu")
	res := env.do(http.MethodGet, "/dashboard/Faculty/widgets/student_roster.csv", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, export.ContentType, res.Header().Get("Content-Type"))
	require.Contains(t, res.Header().Get("Content-Disposition"), "Faculty-student_roster.csv")
	require.NotEmpty(t, strings.TrimSpace(res.Body.String()))

	res = env.do(http.MethodGet, "/dashboard/Faculty/widgets/model_usage.csv", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestCSVExportNeedsCapability(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "student@mind.edu")
	res := env.do(http.MethodGet, "/dashboard/Student/widgets/progress_table.csv", nil)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, "application/json", res.Header().Get("Content-Type"))
	require.Contains(t, res.Body.String(), "Access denied")

	// Refused before the page or widget is resolved.
	res = env.do(http.MethodGet, "/dashboard/Nowhere/widgets/none.csv", nil)
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestPermissionsAndFlush(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "admin@mind.edu")
	res := env.do(http.MethodGet, "/settings/permissions", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "faculty@mind.edu")
	require.Contains(t, res.Body.String(), "Flush query cache")

	res = env.do(http.MethodPost, "/settings/cache/flush", url.Values{})
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, 1, env.flusher.calls)
	flash := env.sess.PopFlash()
	require.NotNil(t, flash)
	require.Equal(t, "success", flash.Kind)

	env.flusher.err = errors.New("redis down")
	env.do(http.MethodPost, "/settings/cache/flush", url.Values{})
	flash = env.sess.PopFlash()
	require.NotNil(t, flash)
	require.Equal(t, "error", flash.Kind)
}

func TestFlushNeedsModifySettings(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "dev@mind.edu")
	res := env.do(http.MethodPost, "/settings/cache/flush", url.Values{})
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Zero(t, env.flusher.calls)

	res = env.do(http.MethodGet, "/settings/permissions", nil)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Contains(t, res.Body.String(), "Access denied")
	require.NotContains(t, res.Body.String(), "faculty@mind.edu")
}
