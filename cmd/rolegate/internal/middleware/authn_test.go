package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
)

// mockService resolves through testify expectations and authorizes with the
// real default access matrix.
type mockService struct {
	iam.Service
	mock.Mock
	policy *iam.AccessPolicy
}

func newMockService() *mockService {
	roles := config.RolesConfig{
		SuperAdmin: config.DefaultSuperAdminRoles,
		Admin:      config.DefaultAdminRoles,
		OrgAdmin:   config.DefaultOrgAdminRoles,
	}
	return &mockService{policy: iam.NewAccessPolicy(config.DefaultRoutes(), iam.NewAuthorityResolver(roles))}
}

func (m *mockService) Resolve(ctx context.Context, r *http.Request, w http.ResponseWriter) (*iam.Resolution, error) {
	args := m.Called(r.URL.Path)
	res, _ := args.Get(0).(*iam.Resolution)
	return res, args.Error(1)
}

func (m *mockService) Authorize(res *iam.Resolution, path, method string, bypass bool) iam.Decision {
	return m.policy.Evaluate(res, m.policy.Match(path, method), bypass)
}

func resolution(profileRole auth.Role, emulated auth.Role) *iam.Resolution {
	ec := &auth.EffectiveContext{
		UserID:        "u1",
		ProfileRole:   profileRole,
		EffectiveRole: profileRole,
		IsSuperAdmin:  profileRole == auth.RoleSuperAdmin,
		Permissions:   auth.NewPermissionSet("idcard:read"),
	}
	authority := iam.AuthorityContext{ProfileRole: profileRole}
	var state *auth.EmulationState
	if emulated != "" {
		now := time.Now()
		expires := now.Add(time.Hour)
		state = &auth.EmulationState{Active: true, EmulatedRole: emulated, OriginalRole: profileRole, ExpiresAt: &expires}
		authority.Emulation = state
		authority.Now = now
		ec.IsEmulating = true
		ec.EffectiveRole = emulated
		ec.OriginalRole = profileRole
	}
	return &iam.Resolution{Emulation: state, Authority: authority, Effective: ec}
}

func newGateHandler(t *testing.T, svc iam.Service) http.Handler {
	t.Helper()
	gate, err := NewGateMiddleware(GateDependencies{Service: svc, SignInPath: "/auth"})
	require.NoError(t, err)
	return gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ec, ok := auth.GetEffectiveContext(r.Context())
		if !ok {
			http.Error(w, "missing context", http.StatusInternalServerError)
			return
		}
		_, hasRes := ResolutionFromContext(r.Context())
		_, _ = fmt.Fprintf(w, "ok:%s:%t", ec.EffectiveRole, hasRes)
	}))
}

func TestGate_PublicPaths(t *testing.T) {
	svc := newMockService()
	h := newGateHandler(t, svc)

	for _, path := range []string{"/health", "/metrics", "/auth", "/auth/callback"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			// Downstream handler has no effective context on public paths
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
		})
	}
	svc.AssertNotCalled(t, "Resolve", mock.Anything)
}

func TestIsPublicPath(t *testing.T) {
	assert.True(t, IsPublicPath("/", DefaultPublicPaths))
	assert.True(t, IsPublicPath("/auth/sign-in", DefaultPublicPaths))
	assert.False(t, IsPublicPath("/authority", DefaultPublicPaths))
	assert.False(t, IsPublicPath("/dashboard", DefaultPublicPaths))
	assert.False(t, IsPublicPath("/healthz", DefaultPublicPaths))
}

func TestGate_Unauthenticated(t *testing.T) {
	svc := newMockService()
	svc.On("Resolve", mock.Anything).Return(nil, auth.ErrUnauthenticated)
	h := newGateHandler(t, svc)

	t.Run("api request gets 401 json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/whoami", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	})

	t.Run("page request redirects with destination", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/templates/42?tab=fields", nil))

		assert.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "/auth", loc.Path)
		assert.Equal(t, "/templates/42?tab=fields", loc.Query().Get("returnTo"))
	})
}

func TestGate_ResolutionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid session", fmt.Errorf("%w: expired", auth.ErrSessionInvalid), http.StatusUnauthorized},
		{"missing profile", fmt.Errorf("%w: u1", auth.ErrProfileNotFound), http.StatusForbidden},
		{"store down", fmt.Errorf("%w: timeout", auth.ErrBackingStoreUnavailable), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.On("Resolve", "/api/things").Return(nil, tt.err)
			rec := httptest.NewRecorder()
			newGateHandler(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/things", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestGate_Decisions(t *testing.T) {
	t.Run("allowed request carries effective context", func(t *testing.T) {
		svc := newMockService()
		svc.On("Resolve", "/templates").Return(resolution(auth.RoleUser, ""), nil)
		rec := httptest.NewRecorder()
		newGateHandler(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/templates", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok:user:true", rec.Body.String())
	})

	t.Run("hard deny", func(t *testing.T) {
		svc := newMockService()
		svc.On("Resolve", "/admin/credits").Return(resolution(auth.RoleOrgAdmin, ""), nil)
		rec := httptest.NewRecorder()
		newGateHandler(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/credits", nil))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("soft deny offers bypass", func(t *testing.T) {
		svc := newMockService()
		svc.On("Resolve", "/admin/credits").Return(resolution(auth.RoleSuperAdmin, auth.RoleOrgAdmin), nil)
		rec := httptest.NewRecorder()
		newGateHandler(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/credits?page=2", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body SoftDenyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.AccessDenied)
		assert.True(t, body.BypassAvailable)
		assert.Equal(t, iam.TierPlatformAdmin, body.RequiredTier)
		assert.Equal(t, auth.RoleOrgAdmin, body.EffectiveRole)
		assert.Equal(t, auth.RoleSuperAdmin, body.OriginalRole)

		bypass, err := url.Parse(body.BypassURL)
		require.NoError(t, err)
		assert.Equal(t, "/admin/credits", bypass.Path)
		assert.Equal(t, "true", bypass.Query().Get(BypassParam))
		assert.Equal(t, "2", bypass.Query().Get("page"))
	})

	t.Run("explicit bypass admits", func(t *testing.T) {
		svc := newMockService()
		svc.On("Resolve", "/admin/credits").Return(resolution(auth.RoleSuperAdmin, auth.RoleOrgAdmin), nil)
		rec := httptest.NewRecorder()
		newGateHandler(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/credits?superadmin_bypass=true", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok:org_admin:true", rec.Body.String())
	})
}

func TestNewGateMiddleware_RequiresService(t *testing.T) {
	_, err := NewGateMiddleware(GateDependencies{})
	assert.Error(t, err)
}
