// Package rbac enforces scope and project-role requirements on routes and
// resolves the viewer-relative status of nested resources.
package rbac

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/httpx"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// RequireScopes ensures the current user is authenticated and carries every
// scope. Unauthenticated requests get 401 and missing scopes 403.
func RequireScopes(scopes ...shared.Scope) func(http.Handler) http.Handler {
	required := normalizeScopes(scopes)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := shared.UserFromContext(r.Context())
			if !user.IsAuthenticated() {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if !user.HasScopes(required...) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DisallowAuth rejects authenticated requests with 403.
func DisallowAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.UserFromContext(r.Context()).IsAuthenticated() {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "already logged in")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdminIn ensures the user administers the project named by the route
// parameter param.
func RequireAdminIn(param string) func(http.Handler) http.Handler {
	return requireProjectRole(param, func(u *shared.User, project string) bool {
		return u.IsAdminIn(project)
	})
}

// RequireModeratorIn ensures the user moderates or administers the project
// named by the route parameter param.
func RequireModeratorIn(param string) func(http.Handler) http.Handler {
	return requireProjectRole(param, func(u *shared.User, project string) bool {
		return u.IsModeratorIn(project) || u.IsAdminIn(project)
	})
}

func requireProjectRole(param string, allowed func(*shared.User, string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := shared.UserFromContext(r.Context())
			if !user.IsAuthenticated() {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if !allowed(user, chi.URLParam(r, param)) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizeScopes(scopes []shared.Scope) []shared.Scope {
	unique := make(map[shared.Scope]struct{}, len(scopes))
	normalized := make([]shared.Scope, 0, len(scopes))
	for _, s := range scopes {
		s = shared.Scope(strings.TrimSpace(strings.ToLower(string(s))))
		if s == "" {
			continue
		}
		if _, dup := unique[s]; dup {
			continue
		}
		unique[s] = struct{}{}
		normalized = append(normalized, s)
	}
	return normalized
}
