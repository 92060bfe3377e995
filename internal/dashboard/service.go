package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/rbac"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// ErrLearnerRequired is returned when the Student page has no learner to
// show and preview mode is off.
var ErrLearnerRequired = fmt.Errorf("dashboard: no learner selected: %w", shared.ErrMisconfigured)

// Runner executes widgets; *analytics.Service implements it.
type Runner interface {
	Run(ctx context.Context, w analytics.Widget, scope query.Scope) (analytics.WidgetResult, error)
	LoadPage(ctx context.Context, scope query.Scope, widgets []analytics.Widget) ([]analytics.WidgetResult, error)
	Query(ctx context.Context, q warehouse.Query) (warehouse.Result, error)
	Builder() *query.Builder
}

// Tab is a rendered tab.
type Tab struct {
	Config  TabConfig
	Results []analytics.WidgetResult
}

// Page is a loaded dashboard page.
type Page struct {
	Config  PageConfig
	Scope   query.Scope
	Tabs    []Tab
	Preview bool
	// Options are the filter choices keyed by filter name.
	Options map[string][]string
}

// Config tunes the Service.
type Config struct {
	Preview bool
	Now     func() time.Time
	Logger  *slog.Logger
}

// Service loads pages for identities.
type Service struct {
	layout  *Layout
	catalog Catalog
	runner  Runner
	access  *rbac.Service
	preview bool
	now     func() time.Time
	logger  *slog.Logger
}

// NewService validates the layout against the catalog and wires the
// runner.
func NewService(layout *Layout, catalog Catalog, runner Runner, access *rbac.Service, cfg Config) (*Service, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	if err := layout.validate(catalog); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		layout:  layout,
		catalog: catalog,
		runner:  runner,
		access:  access,
		preview: cfg.Preview,
		now:     cfg.Now,
		logger:  cfg.Logger.With(slog.String("component", "dashboard")),
	}, nil
}

// Layout exposes the page layout.
func (s *Service) Layout() *Layout { return s.layout }

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// PageConfig returns the layout of a page the identity may open.
func (s *Service) PageConfig(ident identity.Identity, page string) (PageConfig, error) {
	cfg, ok := s.layout.Page(page)
	if !ok {
		return PageConfig{}, fmt.Errorf("dashboard: page %q: %w", page, shared.ErrNotFound)
	}
	if !s.access.CanAccess(ident.Role, page) {
		return PageConfig{}, fmt.Errorf("dashboard: page %q: %w", page, shared.ErrAccessDenied)
	}
	return cfg, nil
}

// Scope derives the query scope of the identity on a page. Preview mode
// substitutes a sample learner on the Student page when none is bound.
func (s *Service) Scope(ctx context.Context, ident identity.Identity, page string, filters query.Filters) (query.Scope, bool, error) {
	scope := query.NewScope(ident, s.access.Has(ident.Role, shared.CapViewTelemetry), filters)
	if page != shared.PageStudent || scope.Learner() != "" {
		return scope, false, nil
	}
	if !s.preview {
		if ident.Role == identity.RoleStudent {
			return scope, false, query.ErrUnboundLearner
		}
		return scope, false, ErrLearnerRequired
	}
	learner, err := s.previewLearner(ctx)
	if err != nil {
		return scope, false, err
	}
	if ident.Role == identity.RoleStudent {
		scope.LearnerID = learner
	} else {
		scope.Filters.Learner = learner
	}
	return scope, true, nil
}

func (s *Service) previewLearner(ctx context.Context) (string, error) {
	res, err := s.runner.Query(ctx, s.runner.Builder().PreviewLearner())
	if err != nil {
		return "", err
	}
	if res.Empty() {
		return "", fmt.Errorf("dashboard: preview: warehouse has no learners: %w", shared.ErrMisconfigured)
	}
	id := res.Rows[0].String("user_id")
	if !id.Valid {
		return "", fmt.Errorf("dashboard: preview: learner id missing: %w", shared.ErrMisconfigured)
	}
	s.logger.InfoContext(ctx, "preview learner", slog.String("learner", id.String))
	return id.String, nil
}

// Load runs every widget of the page concurrently and groups the results
// per tab.
func (s *Service) Load(ctx context.Context, ident identity.Identity, page string, filters query.Filters) (Page, error) {
	cfg, err := s.PageConfig(ident, page)
	if err != nil {
		return Page{}, err
	}
	scope, preview, err := s.Scope(ctx, ident, page, filters)
	if err != nil {
		return Page{Config: cfg, Scope: scope}, err
	}
	ids := cfg.WidgetIDs()
	widgets, err := s.catalog.Widgets(ids)
	if err != nil {
		return Page{}, err
	}
	results, err := s.runner.LoadPage(ctx, scope, widgets)
	if err != nil {
		return Page{Config: cfg, Scope: scope, Preview: preview}, err
	}
	byID := make(map[string]analytics.WidgetResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	out := Page{Config: cfg, Scope: scope, Preview: preview, Options: s.options(ctx, cfg, scope)}
	for _, tab := range cfg.Tabs {
		t := Tab{Config: tab}
		for _, id := range tab.Widgets {
			t.Results = append(t.Results, byID[id])
		}
		out.Tabs = append(out.Tabs, t)
	}
	return out, nil
}

// Widget runs one widget of a page, used by exports.
func (s *Service) Widget(ctx context.Context, ident identity.Identity, page, widget string, filters query.Filters) (analytics.WidgetResult, error) {
	cfg, err := s.PageConfig(ident, page)
	if err != nil {
		return analytics.WidgetResult{}, err
	}
	found := false
	for _, id := range cfg.WidgetIDs() {
		if id == widget {
			found = true
			break
		}
	}
	if !found {
		return analytics.WidgetResult{}, fmt.Errorf("dashboard: widget %q on %s: %w", widget, page, shared.ErrNotFound)
	}
	scope, _, err := s.Scope(ctx, ident, page, filters)
	if err != nil {
		return analytics.WidgetResult{}, err
	}
	return s.runner.Run(ctx, s.catalog[widget], scope)
}

// options loads the department and cohort choices. Failures only hide the
// select boxes.
func (s *Service) options(ctx context.Context, cfg PageConfig, scope query.Scope) map[string][]string {
	out := make(map[string][]string)
	out[FilterRange] = Ranges
	for name, field := range map[string]query.FilterField{
		FilterDepartment: query.FieldDepartment,
		FilterCohort:     query.FieldCohort,
	} {
		if !cfg.HasFilter(name) {
			continue
		}
		q, err := s.runner.Builder().FilterOptions(scope, field)
		if err != nil {
			if !errors.Is(err, shared.ErrAccessDenied) {
				s.logger.WarnContext(ctx, "filter options", slog.String("field", name), slog.Any("error", err))
			}
			continue
		}
		res, err := s.runner.Query(ctx, q)
		if err != nil {
			s.logger.WarnContext(ctx, "filter options", slog.String("field", name), slog.Any("error", err))
			continue
		}
		for _, row := range res.Rows {
			if v := row.String("value"); v.Valid {
				out[name] = append(out[name], v.String)
			}
		}
	}
	return out
}
