package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func withEffectiveContext(r *http.Request, ec *auth.EffectiveContext) *http.Request {
	return r.WithContext(auth.SetEffectiveContext(r.Context(), ec))
}

func TestRequirePermission(t *testing.T) {
	h := RequirePermission("idcard:read")(okHandler)

	t.Run("granted", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := withEffectiveContext(httptest.NewRequest(http.MethodGet, "/", nil),
			&auth.EffectiveContext{UserID: "u1", Permissions: auth.NewPermissionSet("idcard:read")})
		h.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing permission", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := withEffectiveContext(httptest.NewRequest(http.MethodGet, "/", nil),
			&auth.EffectiveContext{UserID: "u1", Permissions: auth.NewPermissionSet("template:read")})
		h.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("outside the gate", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireSuperAdmin(t *testing.T) {
	h := RequireSuperAdmin(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withEffectiveContext(httptest.NewRequest(http.MethodGet, "/", nil),
		&auth.EffectiveContext{UserID: "u1", IsSuperAdmin: true, IsEmulating: true, EffectiveRole: auth.RoleUser}))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withEffectiveContext(httptest.NewRequest(http.MethodGet, "/", nil),
		&auth.EffectiveContext{UserID: "u1", IsAdmin: true}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimit(t *testing.T) {
	limiter, err := NewIdentityLimiter(60, 2, 16)
	require.NoError(t, err)
	h := RateLimit(limiter)(okHandler)

	request := func(userID string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, withEffectiveContext(httptest.NewRequest(http.MethodPost, "/api/role-emulation", nil),
			&auth.EffectiveContext{UserID: userID}))
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, request("u1"))
	assert.Equal(t, http.StatusNoContent, request("u1"))
	assert.Equal(t, http.StatusTooManyRequests, request("u1"))
	assert.Equal(t, http.StatusNoContent, request("u2"), "buckets are per identity")
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{auth.ErrUnauthenticated, http.StatusUnauthorized},
		{auth.ErrSessionInvalid, http.StatusUnauthorized},
		{auth.ErrEmulationExpired, http.StatusConflict},
		{auth.ErrNotEmulating, http.StatusConflict},
		{auth.ErrProfileNotFound, http.StatusForbidden},
		{auth.ErrOrganizationNotFound, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", auth.ErrInsufficientPermission), http.StatusForbidden},
		{auth.ErrBackingStoreUnavailable, http.StatusServiceUnavailable},
		{auth.ErrInvalidRole, http.StatusBadRequest},
		{iam.ErrInvalidDuration, http.StatusBadRequest},
		{iam.ErrOrganizationRequired, http.StatusBadRequest},
		{ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusForError(tt.err))
		})
	}

	assert.Equal(t, "Internal server error", ErrorMessage(errors.New("pq: password authentication failed")))
}
