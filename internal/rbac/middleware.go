package rbac

import (
	"log/slog"
	"net/http"

	"github.com/sitegrid/sitegrid/internal/shared"
)

// Middleware wires permission checks into HTTP handlers. The principal must
// already be on the request context; unauthenticated requests are rejected.
type Middleware struct {
	Engine *Engine
	Logger *slog.Logger
}

// Require ensures the current principal holds the permission before the
// handler runs. Scope context is taken from headers when present.
func (m Middleware) Require(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			scopeCtx := scopeFromHeaders(r)
			decision, err := m.Engine.CheckPermission(r.Context(), principal.TenantID, principal.UserID, code, scopeCtx)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require", slog.String("permission", code), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if !decision.Allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if decision.RequiresMFA {
				w.Header().Set("X-Requires-MFA", "true")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func scopeFromHeaders(r *http.Request) *ScopeContext {
	location := r.Header.Get("X-Scope-Location")
	function := r.Header.Get("X-Scope-Function")
	if location == "" && function == "" {
		return nil
	}
	return &ScopeContext{Location: location, Function: function}
}
