package dashboard

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/rbac"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

var now = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, preview bool) (*Service, *identity.Store) {
	t.Helper()
	db, err := warehouse.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, warehouse.Migrate(db))
	require.NoError(t, db.Load(context.Background(), warehouse.DemoDataset(now)))

	logger := slog.New(slog.DiscardHandler)
	runner := analytics.NewService(db, query.NewBuilder(query.SQLite{}, func() time.Time { return now }), analytics.Options{Logger: logger})
	catalog := DefaultCatalog()
	layout, err := DefaultLayout(catalog)
	require.NoError(t, err)
	svc, err := NewService(layout, catalog, runner, rbac.DefaultService(), Config{
		Preview: preview,
		Now:     func() time.Time { return now },
		Logger:  logger,
	})
	require.NoError(t, err)

	store, err := identity.Default()
	require.NoError(t, err)
	return svc, store
}

func mustIdentity(t *testing.T, store *identity.Store, key string) identity.Identity {
	t.Helper()
	ident, ok := store.Get(key)
	require.True(t, ok, key)
	return ident
}

func statuses(p Page) map[string]analytics.Status {
	out := make(map[string]analytics.Status)
	for _, tab := range p.Tabs {
		for _, r := range tab.Results {
			out[r.ID] = r.Status
		}
	}
	return out
}

func TestDefaultLayoutCoversEveryPage(t *testing.T) {
	layout, err := DefaultLayout(DefaultCatalog())
	require.NoError(t, err)
	for _, page := range shared.Pages() {
		cfg, ok := layout.Page(page)
		require.True(t, ok, page)
		require.NotEmpty(t, cfg.WidgetIDs(), page)
	}
	require.NoError(t, DefaultCatalog().Validate())
}

func TestLoadLayoutRejectsUnknownWidget(t *testing.T) {
	doc := `pages:
  - name: Admin
    tabs: [{id: a, title: A, widgets: [nope]}]
`
	_, err := LoadLayout(strings.NewReader(doc), DefaultCatalog())
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown widget "nope"`)
	require.Contains(t, err.Error(), `page "Student" missing`)
}

func TestLoadLayoutRejectsUnknownFields(t *testing.T) {
	_, err := LoadLayout(strings.NewReader("pagez: []\n"), DefaultCatalog())
	require.Error(t, err)
}

func TestEveryRoleLoadsItsPage(t *testing.T) {
	svc, store := newTestService(t, false)
	ctx := context.Background()
	cases := map[string]string{
		"admin@mind.edu":   shared.PageAdmin,
		"dev@mind.edu":     shared.PageDeveloper,
		"faculty@mind.edu": shared.PageFaculty,
		"student@mind.edu": shared.PageStudent,
	}
	for key, page := range cases {
		ident := mustIdentity(t, store, key)
		filters := FilterForm{}.Filters(now)
		p, err := svc.Load(ctx, ident, page, filters)
		require.NoError(t, err, key)
		for id, st := range statuses(p) {
			require.NotEqual(t, analytics.StatusError, st, "%s %s", key, id)
			require.NotEqual(t, analytics.StatusDenied, st, "%s %s", key, id)
		}
	}
}

func TestStudentSeesOwnStanding(t *testing.T) {
	svc, store := newTestService(t, false)
	p, err := svc.Load(context.Background(), mustIdentity(t, store, "student@mind.edu"), shared.PageStudent, FilterForm{}.Filters(now))
	require.NoError(t, err)
	require.False(t, p.Preview)
	require.Equal(t, analytics.StatusOK, statuses(p)["own_average"])
	require.Equal(t, warehouse.DemoLearnerID, p.Scope.LearnerID)
	require.Empty(t, p.Options[FilterDepartment])
}

func TestPageAccessIsChecked(t *testing.T) {
	svc, store := newTestService(t, false)
	ctx := context.Background()
	_, err := svc.Load(ctx, mustIdentity(t, store, "faculty@mind.edu"), shared.PageAdmin, query.Filters{})
	require.ErrorIs(t, err, shared.ErrAccessDenied)
	_, err = svc.Load(ctx, mustIdentity(t, store, "admin@mind.edu"), "Settings", query.Filters{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestFacultyOutOfScopeSelectionIsDenied(t *testing.T) {
	svc, store := newTestService(t, false)
	p, err := svc.Load(context.Background(), mustIdentity(t, store, "faculty@mind.edu"), shared.PageFaculty,
		FilterForm{Department: "Business"}.Filters(now))
	require.NoError(t, err)
	require.Equal(t, analytics.StatusDenied, statuses(p)["student_roster"])
	require.ElementsMatch(t, []string{"Computer Science", "Engineering"}, p.Options[FilterDepartment])
}

func TestAdminStudentPageNeedsLearnerWithoutPreview(t *testing.T) {
	svc, store := newTestService(t, false)
	admin := mustIdentity(t, store, "admin@mind.edu")
	_, err := svc.Load(context.Background(), admin, shared.PageStudent, query.Filters{})
	require.ErrorIs(t, err, ErrLearnerRequired)
	require.ErrorIs(t, err, shared.ErrMisconfigured)

	p, err := svc.Load(context.Background(), admin, shared.PageStudent, query.Filters{Learner: warehouse.DemoLearnerID})
	require.NoError(t, err)
	require.Equal(t, analytics.StatusOK, statuses(p)["own_average"])
}

func TestPreviewModeSubstitutesLearner(t *testing.T) {
	svc, store := newTestService(t, true)
	admin := mustIdentity(t, store, "admin@mind.edu")
	p, err := svc.Load(context.Background(), admin, shared.PageStudent, query.Filters{})
	require.NoError(t, err)
	require.True(t, p.Preview)
	require.NotEmpty(t, p.Scope.Filters.Learner)

	unbound := identity.Identity{Key: "new@mind.edu", Role: identity.RoleStudent}
	p, err = svc.Load(context.Background(), unbound, shared.PageStudent, query.Filters{})
	require.NoError(t, err)
	require.True(t, p.Preview)
	require.NotEmpty(t, p.Scope.LearnerID)
}

func TestUnboundStudentWithoutPreviewIsMisconfigured(t *testing.T) {
	svc, _ := newTestService(t, false)
	unbound := identity.Identity{Key: "new@mind.edu", Role: identity.RoleStudent}
	_, err := svc.Load(context.Background(), unbound, shared.PageStudent, query.Filters{})
	require.ErrorIs(t, err, query.ErrUnboundLearner)
}

func TestWidgetExportChecksPageMembership(t *testing.T) {
	svc, store := newTestService(t, false)
	faculty := mustIdentity(t, store, "faculty@mind.edu")
	res, err := svc.Widget(context.Background(), faculty, shared.PageFaculty, "at_risk", FilterForm{Threshold: "90"}.Filters(now))
	require.NoError(t, err)
	require.Equal(t, analytics.StatusOK, res.Status)

	_, err = svc.Widget(context.Background(), faculty, shared.PageFaculty, "model_usage", query.Filters{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestFilterForm(t *testing.T) {
	v := validator.New()
	cfg := PageConfig{Filters: []string{FilterRange, FilterThreshold, FilterSearch}}
	values := map[string]string{"range": "7d", "threshold": "55", "search": "  ada ", "department": "ignored"}
	form := FormFromValues(cfg, func(k string) string { return values[k] })
	require.NoError(t, form.Validate(v))
	require.Equal(t, map[string]string{"range": "7d", "threshold": "55", "search": "ada"}, form.Values())

	f := form.Filters(now)
	require.Equal(t, now.Add(-7*24*time.Hour), f.Since)
	require.Equal(t, 55.0, f.Threshold)
	require.Empty(t, f.Department)

	require.True(t, FilterForm{Range: "all"}.Filters(now).Since.IsZero())
	require.Equal(t, now.Add(-30*24*time.Hour), FilterForm{}.Filters(now).Since)

	var fieldErr *FieldError
	require.ErrorAs(t, FilterForm{Range: "1y"}.Validate(v), &fieldErr)
	require.Equal(t, "range", fieldErr.Field)
	require.ErrorAs(t, FilterForm{Threshold: "150"}.Validate(v), &fieldErr)
	require.Equal(t, FilterThreshold, fieldErr.Field)
	require.Error(t, FilterForm{Threshold: "abc"}.Validate(v))
}
