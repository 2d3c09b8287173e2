package auth

import (
	"context"
	"net/http"

	"github.com/agentctl/controlplane/internal/httpserver"
)

// KeyResolver resolves a hashed API key to the user_id that owns it.
// Implemented by the metadata store (pkg/store).
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, hash string) (userID string, ok bool, err error)
}

// Middleware authenticates every request via the X-API-Key header and stores
// the resolved Identity in the request context. It does not enforce the
// path-user match — that is RequireUserMatch, applied per-route once the
// {user} path param is known.
func Middleware(resolver KeyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing X-API-Key header")
				return
			}

			userID, ok, err := resolver.ResolveAPIKey(r.Context(), HashAPIKey(raw))
			if err != nil {
				httpserver.RespondError(w, http.StatusServiceUnavailable, "storage_unavailable", "failed to resolve API key")
				return
			}
			if !ok {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}

			ctx := NewContext(r.Context(), &Identity{UserID: userID, Masked: Mask(raw)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUserMatch rejects requests whose authenticated identity does not
// match the {user} path segment, per spec.md §6.
func RequireUserMatch(pathUser func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil || id.UserID != pathUser(r) {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "API key does not match path user")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
