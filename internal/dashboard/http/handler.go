// Package dashboardhttp serves the role dashboards, their JSON and CSV
// views and the settings pages.
package dashboardhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/analytics/export"
	"github.com/mind-edu/mind-insights/internal/analytics/ui"
	"github.com/mind-edu/mind-insights/internal/auth"
	"github.com/mind-edu/mind-insights/internal/dashboard"
	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/platform/httpx"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/rbac"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/view"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

const previewNote = "Preview mode: showing a sample learner from the warehouse."

// CacheFlusher invalidates cached query results.
type CacheFlusher interface {
	Bump(ctx context.Context) (int64, error)
}

// IdentityLister lists the configured identities.
type IdentityLister interface {
	Identities() []identity.Identity
}

// Handler coordinates HTTP requests for the dashboards.
type Handler struct {
	logger     *slog.Logger
	pages      *dashboard.Service
	templates  *view.Engine
	csrf       *shared.CSRFManager
	access     *rbac.Service
	tracker    *analytics.RenderTracker
	flusher    CacheFlusher
	identities IdentityLister
	validator  *validator.Validate
	csvPool    sync.Pool
}

// Params groups the Handler dependencies. Flusher and Identities may be nil.
type Params struct {
	Logger     *slog.Logger
	Pages      *dashboard.Service
	Templates  *view.Engine
	CSRF       *shared.CSRFManager
	Access     *rbac.Service
	Tracker    *analytics.RenderTracker
	Flusher    CacheFlusher
	Identities IdentityLister
}

// NewHandler constructs the dashboard HTTP handler.
func NewHandler(p Params) *Handler {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Tracker == nil {
		p.Tracker = analytics.NewRenderTracker()
	}
	h := &Handler{
		logger:     p.Logger.With(slog.String("component", "dashboard")),
		pages:      p.Pages,
		templates:  p.Templates,
		csrf:       p.CSRF,
		access:     p.Access,
		tracker:    p.Tracker,
		flusher:    p.Flusher,
		identities: p.Identities,
		validator:  validator.New(),
	}
	h.csvPool.New = func() any { return new(bytes.Buffer) }
	return h
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, rbac.LoginPath, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.access.HomePath(ident.Role), http.StatusSeeOther)
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireIdentity(w, r, true)
	if !ok {
		return
	}
	page := chi.URLParam(r, "page")
	sess := shared.SessionFromContext(r.Context())
	cfg, err := h.pages.PageConfig(ident, page)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	form, filters, err := h.sessionFilters(sess, cfg)
	if err != nil {
		h.logger.Warn("stored filters rejected", slog.String("page", page), slog.Any("error", err))
		sess.SetFilters(page, nil)
		form, filters = dashboard.FilterForm{}, dashboard.FilterForm{}.Filters(h.pages.Now())
	}

	ctx, done := h.tracker.Begin(r.Context(), analytics.RenderKey(sess.ID, page))
	defer done()

	vm := h.baseView(ident, cfg, form)
	loaded, err := h.pages.Load(ctx, ident, page, filters)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() == nil {
			// A newer render of this page superseded the request.
			w.WriteHeader(http.StatusConflict)
			return
		}
		if !errors.Is(err, shared.ErrMisconfigured) {
			h.renderError(w, r, err)
			return
		}
		h.logger.Warn("page misconfigured", slog.String("page", page), slog.String("user", ident.Key), slog.Any("error", err))
		vm.Error = misconfiguredMessage(ident, err)
		h.render(w, r, http.StatusOK, "pages/dashboard.html", cfg.Title, vm)
		return
	}
	h.fillView(&vm, loaded)
	h.render(w, r, http.StatusOK, "pages/dashboard.html", cfg.Title, vm)
}

func misconfiguredMessage(ident identity.Identity, err error) string {
	if errors.Is(err, dashboard.ErrLearnerRequired) {
		return "Select a learner to open the Student page."
	}
	if ident.Role == identity.RoleStudent && errors.Is(err, query.ErrUnboundLearner) {
		return "Your account is not linked to a learner record. Please contact an administrator."
	}
	return "This page is not configured correctly. Please contact an administrator."
}

type pageJSON struct {
	Page    string                   `json:"page"`
	Preview bool                     `json:"preview"`
	Filters query.Filters            `json:"filters"`
	Widgets []analytics.WidgetResult `json:"widgets"`
}

func (h *Handler) handlePageJSON(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireIdentity(w, r, false)
	if !ok {
		return
	}
	page := chi.URLParam(r, "page")
	sess := shared.SessionFromContext(r.Context())
	cfg, err := h.pages.PageConfig(ident, page)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	_, filters, err := h.sessionFilters(sess, cfg)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	loaded, err := h.pages.Load(r.Context(), ident, page, filters)
	if err != nil {
		h.logError(r, "load page", err)
		httpx.RespondError(w, err)
		return
	}
	out := pageJSON{Page: page, Preview: loaded.Preview, Filters: loaded.Scope.Filters}
	for _, tab := range loaded.Tabs {
		out.Widgets = append(out.Widgets, tab.Results...)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleFilters(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireIdentity(w, r, true)
	if !ok {
		return
	}
	page := chi.URLParam(r, "page")
	cfg, err := h.pages.PageConfig(ident, page)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if r.PostFormValue("reset") != "" {
		sess.SetFilters(page, nil)
		http.Redirect(w, r, rbac.PagePath(page), http.StatusSeeOther)
		return
	}
	form := dashboard.FormFromValues(cfg, r.PostFormValue)
	if err := form.Validate(h.validator); err != nil {
		var fieldErr *dashboard.FieldError
		msg := "Invalid filter selection."
		if errors.As(err, &fieldErr) {
			msg = fmt.Sprintf("Invalid value for %s.", fieldErr.Field)
		}
		sess.AddFlash(shared.FlashMessage{Kind: "error", Message: msg})
		http.Redirect(w, r, rbac.PagePath(page), http.StatusSeeOther)
		return
	}
	sess.SetFilters(page, form.Values())
	http.Redirect(w, r, rbac.PagePath(page), http.StatusSeeOther)
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireIdentity(w, r, false)
	if !ok {
		return
	}
	page, widget := chi.URLParam(r, "page"), chi.URLParam(r, "widget")
	cfg, err := h.pages.PageConfig(ident, page)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	_, filters, err := h.sessionFilters(shared.SessionFromContext(r.Context()), cfg)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.pages.Widget(r.Context(), ident, page, widget, filters)
	if err != nil {
		h.logError(r, "export widget", err)
		httpx.RespondError(w, err)
		return
	}
	switch res.Status {
	case analytics.StatusOK, analytics.StatusEmpty:
	case analytics.StatusDenied:
		httpx.RespondError(w, fmt.Errorf("export %s: %w", widget, shared.ErrAccessDenied))
		return
	default:
		httpx.Problem(w, http.StatusBadGateway, "Export failed", res.Message)
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()
	if err := export.WriteResultCSV(buf, res.Result); err != nil {
		h.logError(r, "write csv", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.logger.Info("export", slog.String("user", ident.Key), slog.String("page", page), slog.String("widget", widget), slog.Int("rows", len(res.Result.Rows)))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(page, widget)))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError(r, "stream csv", err)
	}
}

type permissionRow struct {
	Role         identity.Role
	Pages        []string
	Capabilities []string
}

type identityRow struct {
	Key         string
	Name        string
	Role        identity.Role
	Departments []string
	Cohorts     []string
	LearnerID   string
}

type permissionsView struct {
	Roles      []permissionRow
	Identities []identityRow
	CanFlush   bool
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireIdentity(w, r, true)
	if !ok {
		return
	}
	var vm permissionsView
	for _, perm := range h.access.Permissions() {
		vm.Roles = append(vm.Roles, permissionRow{Role: perm.Role, Pages: perm.Pages, Capabilities: perm.Capabilities()})
	}
	if h.identities != nil {
		for _, id := range h.identities.Identities() {
			vm.Identities = append(vm.Identities, identityRow{
				Key: id.Key, Name: id.Name, Role: id.Role,
				Departments: id.Departments, Cohorts: id.Cohorts, LearnerID: id.LearnerID,
			})
		}
	}
	vm.CanFlush = h.flusher != nil && h.access.Has(ident.Role, shared.CapModifySettings)
	h.render(w, r, http.StatusOK, "pages/permissions.html", "Permissions", vm)
}

func (h *Handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireIdentity(w, r, true)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if h.flusher == nil {
		sess.AddFlash(shared.FlashMessage{Kind: "error", Message: "Query cache is not enabled."})
		http.Redirect(w, r, "/settings/permissions", http.StatusSeeOther)
		return
	}
	version, err := h.flusher.Bump(r.Context())
	if err != nil {
		h.logError(r, "flush cache", err)
		sess.AddFlash(shared.FlashMessage{Kind: "error", Message: "Could not flush the query cache."})
	} else {
		h.logger.Info("query cache flushed", slog.String("user", ident.Key), slog.Int64("version", version))
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Query cache flushed."})
	}
	http.Redirect(w, r, "/settings/permissions", http.StatusSeeOther)
}

// requireIdentity resolves the signed-in identity. Anonymous browsers are
// redirected to the login page, API clients get 401.
func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request, html bool) (identity.Identity, bool) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if ok {
		return ident, true
	}
	if html {
		http.Redirect(w, r, rbac.LoginPath, http.StatusSeeOther)
	} else {
		httpx.RespondError(w, shared.ErrUnauthenticated)
	}
	return identity.Identity{}, false
}

func (h *Handler) sessionFilters(sess *shared.Session, cfg dashboard.PageConfig) (dashboard.FilterForm, query.Filters, error) {
	stored := sess.Filters(cfg.Name)
	form := dashboard.FormFromValues(cfg, func(k string) string { return stored[k] })
	if err := form.Validate(h.validator); err != nil {
		return dashboard.FilterForm{}, query.Filters{}, err
	}
	return form, form.Filters(h.pages.Now()), nil
}

func (h *Handler) baseView(ident identity.Identity, cfg dashboard.PageConfig, form dashboard.FilterForm) ui.PageView {
	vm := ui.PageView{
		Page:      cfg.Name,
		Title:     cfg.Title,
		Since:     form.Range,
		Search:    form.Search,
		Threshold: form.Threshold,
		TraceID:   form.TraceID,
		Offered:   cfg.Filters,
		Ranges:    dashboard.Ranges,
	}
	if vm.Since == "" {
		vm.Since = dashboard.DefaultRange
	}
	for _, name := range []string{dashboard.FilterDepartment, dashboard.FilterCohort} {
		if cfg.HasFilter(name) {
			selected := form.Department
			if name == dashboard.FilterCohort {
				selected = form.Cohort
			}
			vm.Filters = append(vm.Filters, ui.FilterView{Name: name, Label: labelFor(name), Selected: selected})
		}
	}
	if cfg.HasFilter(dashboard.FilterLearner) && ident.Role != identity.RoleStudent {
		vm.Filters = append(vm.Filters, ui.FilterView{Name: dashboard.FilterLearner, Label: "Learner ID", Selected: form.Learner})
	}
	return vm
}

func labelFor(name string) string {
	switch name {
	case dashboard.FilterDepartment:
		return "Department"
	case dashboard.FilterCohort:
		return "Cohort"
	}
	return name
}

func (h *Handler) fillView(vm *ui.PageView, loaded dashboard.Page) {
	if loaded.Preview {
		vm.Preview, vm.PreviewNote = true, previewNote
	}
	for i := range vm.Filters {
		vm.Filters[i].Options = loaded.Options[vm.Filters[i].Name]
	}
	canExport := h.access.Has(loaded.Scope.Role, shared.CapExportData)
	for _, tab := range loaded.Tabs {
		tv := ui.TabView{ID: tab.Config.ID, Title: tab.Config.Title}
		for _, res := range tab.Results {
			exportURL := ""
			if canExport {
				exportURL = rbac.PagePath(loaded.Config.Name) + "/widgets/" + url.PathEscape(res.ID) + ".csv"
			}
			tv.Widgets = append(tv.Widgets, ui.ToWidgetView(res, exportURL))
		}
		vm.Tabs = append(vm.Tabs, tv)
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken := ""
	var flash *shared.FlashMessage
	if sess != nil {
		csrfToken, _ = h.csrf.EnsureToken(r.Context(), sess)
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		Flash:       flash,
		CSRFToken:   csrfToken,
		CurrentPath: r.URL.Path,
		Nav:         h.nav(r),
		Data:        data,
	}
	if status != http.StatusOK {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, name, viewData); err != nil {
		h.logError(r, "render template", err)
		if status == http.StatusOK {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

func (h *Handler) nav(r *http.Request) *view.Nav {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	nav := &view.Nav{
		Current:  chi.URLParam(r, "page"),
		Settings: h.access.Has(ident.Role, shared.CapViewAllUsers),
		User:     ident.Name,
		Role:     string(ident.Role),
	}
	for _, page := range shared.Pages() {
		if h.access.CanAccess(ident.Role, page) {
			nav.Pages = append(nav.Pages, page)
		}
	}
	return nav
}

type errorView struct {
	Status  int
	Heading string
	Message string
}

// renderError shows the error page. Lost warehouse connections surface as
// 503, missing pages as 404 and denied pages as 403.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.Status(err)
	vm := errorView{Status: status}
	switch {
	case errors.Is(err, shared.ErrAccessDenied):
		vm.Heading, vm.Message = "Access denied", "You do not have permission to view this page."
	case errors.Is(err, shared.ErrNotFound):
		vm.Heading, vm.Message = "Not found", "This page does not exist."
	case warehouse.IsConnection(err):
		vm.Heading, vm.Message = "Warehouse unavailable", "The analytics warehouse cannot be reached right now. Please try again later."
	default:
		vm.Heading, vm.Message = "Something went wrong", "The page could not be loaded."
	}
	if status >= http.StatusInternalServerError {
		h.logError(r, "page error", err)
	}
	h.render(w, r, status, "pages/error.html", vm.Heading, vm)
}

// deniedPage renders the access denied page for guarded HTML routes.
func (h *Handler) deniedPage(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, fmt.Errorf("%s: %w", r.URL.Path, shared.ErrAccessDenied))
}

// deniedProblem answers guarded download routes with a problem document.
func deniedProblem(w http.ResponseWriter, r *http.Request) {
	httpx.RespondError(w, fmt.Errorf("%s: %w", r.URL.Path, shared.ErrAccessDenied))
}

func (h *Handler) logError(r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.String("path", r.URL.Path), slog.Any("error", err))
}
