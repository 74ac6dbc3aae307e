package middleware

import (
	"fmt"
	"net/http"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
)

// RequirePermission admits requests whose effective permission set holds perm.
// It must run behind the gate.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ec, ok := auth.GetEffectiveContext(r.Context())
			if !ok {
				WriteError(w, auth.ErrUnauthenticated)
				return
			}
			if !ec.HasPermission(perm) {
				WriteError(w, fmt.Errorf("%w: requires %s", auth.ErrInsufficientPermission, perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperAdmin admits requests whose full authority is super admin,
// regardless of any active emulation.
func RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ec, ok := auth.GetEffectiveContext(r.Context())
		if !ok {
			WriteError(w, auth.ErrUnauthenticated)
			return
		}
		if !ec.IsSuperAdmin {
			WriteError(w, fmt.Errorf("%w: requires super admin", auth.ErrInsufficientPermission))
			return
		}
		next.ServeHTTP(w, r)
	})
}
