package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/franchisepos/inventory/internal/platform/httpx"
)

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireUser rejects requests without an authenticated, active user.
func (m Middleware) RequireUser() func(http.Handler) http.Handler {
	return m.require(false)
}

// RequireSuperAdmin rejects callers who are not super admins.
func (m Middleware) RequireSuperAdmin() func(http.Handler) http.Handler {
	return m.require(true)
}

func (m Middleware) require(superAdmin bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := m.Service.Principal(r.Context())
			if err != nil {
				if !errors.Is(err, ErrNoSession) && m.Logger != nil {
					m.Logger.Error("rbac load principal", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if superAdmin && !p.IsSuperAdmin() {
				httpx.RespondError(w, ErrSuperAdminOnly)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
