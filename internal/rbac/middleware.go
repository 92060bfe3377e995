package rbac

import (
	"log/slog"
	"net/http"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/shared"
)

// LoginPath is where anonymous browsers are sent.
const LoginPath = "/auth/login"

// Middleware wires RBAC authorization helpers for HTTP handlers. Denied
// renders the refusal; plain text 403 is used when it is nil.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
	Denied  http.HandlerFunc
}

// RequireAll ensures the session role carries every capability.
func (m Middleware) RequireAll(caps ...string) func(http.Handler) http.Handler {
	return m.require(func(role identity.Role) bool {
		for _, c := range caps {
			if !m.Service.Has(role, c) {
				return false
			}
		}
		return true
	})
}

func (m Middleware) require(allowed func(identity.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := m.currentRole(r)
			if !ok {
				if wantsHTML(r) {
					http.Redirect(w, r, LoginPath, http.StatusSeeOther)
					return
				}
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if !allowed(role) {
				if m.Logger != nil {
					m.Logger.Warn("rbac denied", slog.String("role", string(role)), slog.String("path", r.URL.Path))
				}
				if m.Denied != nil {
					m.Denied(w, r)
					return
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) currentRole(r *http.Request) (identity.Role, bool) {
	sess := shared.SessionFromContext(r.Context())
	if !sess.Authenticated() {
		return "", false
	}
	role, ok := identity.ParseRole(sess.Role())
	if !ok {
		if m.Logger != nil {
			m.Logger.Error("rbac parse role", slog.String("value", sess.Role()))
		}
		return "", false
	}
	return role, true
}

func wantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && r.Header.Get("Accept") != "application/json"
}
