package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/shared"
)

type identityContextKey struct{}

// ContextWithIdentity stores the resolved identity in context.
func ContextWithIdentity(ctx context.Context, ident identity.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, ident)
}

// IdentityFromContext extracts the identity placed by Middleware.
func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	ident, ok := ctx.Value(identityContextKey{}).(identity.Identity)
	return ident, ok
}

// Middleware resolves the session identity for downstream handlers. A
// session whose identity vanished from the store is torn down.
func (g *Gate) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if !sess.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}
			ident, ok := g.Current(sess)
			if !ok {
				if logger != nil {
					logger.Warn("session identity no longer valid", slog.String("user", sess.User()))
				}
				g.TeardownSession(sess)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), ident)))
		})
	}
}
