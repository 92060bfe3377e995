package dashboardhttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/mind-edu/mind-insights/internal/rbac"
	"github.com/mind-edu/mind-insights/internal/shared"
)

// MountRoutes registers the dashboard endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(20, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	pages := rbac.Middleware{Service: h.access, Logger: h.logger, Denied: h.deniedPage}
	downloads := rbac.Middleware{Service: h.access, Logger: h.logger, Denied: deniedProblem}

	r.Get("/", h.handleHome)
	r.Get("/dashboard/{page}", h.handlePage)
	r.Post("/dashboard/{page}/filters", h.handleFilters)
	r.Get("/api/pages/{page}", h.handlePageJSON)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.With(downloads.RequireAll(shared.CapExportData)).Get("/dashboard/{page}/widgets/{widget}.csv", h.handleCSV)
		gr.With(pages.RequireAll(shared.CapModifySettings)).Post("/settings/cache/flush", h.handleFlush)
	})
	r.With(pages.RequireAll(shared.CapViewAllUsers)).Get("/settings/permissions", h.handlePermissions)
}

func rateLimitKey(r *http.Request) (string, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if user := strings.TrimSpace(sess.User()); user != "" {
			return "user:" + user, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
