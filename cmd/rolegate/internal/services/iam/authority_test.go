package iam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
)

func newTestAuthority() *AuthorityResolver {
	return NewAuthorityResolver(testConfig().Roles)
}

func TestAuthorityResolver_IsSuperAdmin(t *testing.T) {
	r := newTestAuthority()
	expired := t0.Add(-time.Hour)
	expires := t0.Add(time.Hour)

	tests := []struct {
		name    string
		ctx     AuthorityContext
		want    bool
		sources []string
	}{
		{
			name: "profile role",
			ctx:  AuthorityContext{ProfileRole: auth.RoleSuperAdmin},
			want: true, sources: []string{"profile"},
		},
		{
			name: "claims role with plain profile",
			ctx:  AuthorityContext{ProfileRole: auth.RoleUser, Claims: &auth.RoleClaims{EffectiveRoles: []auth.Role{auth.RoleSuperAdmin}}},
			want: true, sources: []string{"claims"},
		},
		{
			name: "metadata role",
			ctx:  AuthorityContext{ProfileRole: auth.RoleUser, MetadataRole: auth.RoleSuperAdmin},
			want: true, sources: []string{"metadata"},
		},
		{
			name: "emulation original role while emulating a lower role",
			ctx: AuthorityContext{
				ProfileRole: auth.RoleUser,
				Emulation:   &auth.EmulationState{Active: true, EmulatedRole: auth.RoleOrgAdmin, OriginalRole: auth.RoleSuperAdmin, ExpiresAt: &expires},
				Now:         t0,
			},
			want: true, sources: []string{"emulation_original"},
		},
		{
			name: "expired emulation vouches for nothing",
			ctx: AuthorityContext{
				ProfileRole: auth.RoleUser,
				Emulation:   &auth.EmulationState{Active: true, EmulatedRole: auth.RoleUser, OriginalRole: auth.RoleSuperAdmin, ExpiresAt: &expired},
				Now:         t0,
			},
			want: false,
		},
		{
			name: "expiry is judged at the context instant",
			ctx: AuthorityContext{
				ProfileRole: auth.RoleUser,
				Emulation:   &auth.EmulationState{Active: true, EmulatedRole: auth.RoleUser, OriginalRole: auth.RoleSuperAdmin, ExpiresAt: &expires},
				Now:         t0.Add(61 * time.Minute),
			},
			want: false,
		},
		{
			name: "expired emulation leaves the profile source in force",
			ctx: AuthorityContext{
				ProfileRole: auth.RoleSuperAdmin,
				Emulation:   &auth.EmulationState{Active: true, EmulatedRole: auth.RoleUser, OriginalRole: auth.RoleSuperAdmin, ExpiresAt: &expired},
				Now:         t0,
			},
			want: true, sources: []string{"profile"},
		},
		{
			name: "every source matching is reported",
			ctx: AuthorityContext{
				ProfileRole:  auth.RoleSuperAdmin,
				Claims:       &auth.RoleClaims{EffectiveRoles: []auth.Role{auth.RoleSuperAdmin}},
				MetadataRole: auth.RoleSuperAdmin,
			},
			want: true, sources: []string{"profile", "claims", "metadata"},
		},
		{
			name: "no source",
			ctx:  AuthorityContext{ProfileRole: auth.RoleOrgAdmin, Claims: &auth.RoleClaims{EffectiveRoles: []auth.Role{auth.RoleIDGenAdmin}}},
			want: false,
		},
		{
			name: "empty context",
			ctx:  AuthorityContext{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsSuperAdmin(tt.ctx))
			assert.Equal(t, tt.sources, r.MatchingSources(tt.ctx, auth.NewRoleSet("super_admin")))
		})
	}
}

func TestAuthorityResolver_AdditionalSourceNeverRevokes(t *testing.T) {
	r := newTestAuthority()
	base := AuthorityContext{ProfileRole: auth.RoleSuperAdmin}
	assert.True(t, r.IsSuperAdmin(base))

	// Adding a lower claim or metadata role cannot take super admin away
	base.Claims = &auth.RoleClaims{EffectiveRoles: []auth.Role{auth.RoleUser}}
	base.MetadataRole = auth.RoleUser
	assert.True(t, r.IsSuperAdmin(base))

	// Emulating a lower role keeps the original role in force
	expires := t0.Add(time.Hour)
	base.Emulation = &auth.EmulationState{Active: true, EmulatedRole: auth.RoleUser, OriginalRole: auth.RoleSuperAdmin, ExpiresAt: &expires}
	base.Now = t0
	base.ProfileRole = auth.RoleUser
	assert.True(t, r.IsSuperAdmin(base))
}

func TestAuthorityResolver_SuperAdminImpliesAdmin(t *testing.T) {
	r := newTestAuthority()
	for _, a := range []AuthorityContext{
		{ProfileRole: auth.RoleSuperAdmin},
		{Claims: &auth.RoleClaims{EffectiveRoles: []auth.Role{auth.RoleSuperAdmin}}},
		{MetadataRole: auth.RoleSuperAdmin},
	} {
		assert.True(t, r.IsAdmin(a))
		assert.True(t, r.IsOrgAdmin(a))
	}

	assert.True(t, r.IsAdmin(AuthorityContext{ProfileRole: auth.RoleEventAdmin}))
	assert.False(t, r.IsOrgAdmin(AuthorityContext{ProfileRole: auth.RoleEventAdmin}))
	assert.False(t, r.IsAdmin(AuthorityContext{ProfileRole: auth.RoleIDGenViewer}))
}

func TestAuthorityResolver_HasRole(t *testing.T) {
	r := newTestAuthority()

	assert.True(t, r.HasRole(AuthorityContext{ProfileRole: auth.RoleIDGenViewer}, auth.RoleIDGenViewer))
	assert.True(t, r.HasRole(AuthorityContext{ProfileRole: auth.RoleUser, Claims: &auth.RoleClaims{EffectiveRoles: []auth.Role{auth.RoleIDGenViewer}}}, auth.RoleIDGenViewer, auth.RoleIDGenAdmin))
	assert.False(t, r.HasRole(AuthorityContext{ProfileRole: auth.RoleUser}, auth.RoleIDGenViewer))
	assert.True(t, r.HasRole(AuthorityContext{ProfileRole: auth.RoleSuperAdmin}, auth.RolePropertyTenant), "super admins hold every role")
	assert.False(t, r.HasRole(AuthorityContext{ProfileRole: auth.RoleUser}))
}

func TestAuthorityResolver_OriginalRole(t *testing.T) {
	r := newTestAuthority()
	expires := t0.Add(time.Hour)

	t.Run("recorded original role is kept", func(t *testing.T) {
		a := AuthorityContext{
			ProfileRole: auth.RoleUser,
			Emulation:   &auth.EmulationState{Active: true, EmulatedRole: auth.RoleOrgAdmin, OriginalRole: auth.RoleSuperAdmin, ExpiresAt: &expires},
			Now:         t0,
		}
		assert.Equal(t, auth.RoleSuperAdmin, r.OriginalRole(a))
	})

	t.Run("expired record is not carried forward", func(t *testing.T) {
		a := AuthorityContext{
			ProfileRole: auth.RoleUser,
			Emulation:   &auth.EmulationState{Active: true, EmulatedRole: auth.RoleOrgAdmin, OriginalRole: auth.RoleSuperAdmin, ExpiresAt: &expires},
			Now:         t0.Add(2 * time.Hour),
		}
		assert.Empty(t, r.OriginalRole(a))
	})

	t.Run("first super admin source", func(t *testing.T) {
		a := AuthorityContext{
			ProfileRole: auth.RoleUser,
			Claims:      &auth.RoleClaims{EffectiveRoles: []auth.Role{auth.RoleIDGenAdmin, auth.RoleSuperAdmin}},
		}
		assert.Equal(t, auth.RoleSuperAdmin, r.OriginalRole(a))
	})

	t.Run("no super admin", func(t *testing.T) {
		assert.Empty(t, r.OriginalRole(AuthorityContext{ProfileRole: auth.RoleOrgAdmin}))
	})
}

func TestEffectiveAuthority(t *testing.T) {
	r := newTestAuthority()
	assert.False(t, r.IsSuperAdmin(EffectiveAuthority(auth.RoleOrgAdmin)))
	assert.True(t, r.IsOrgAdmin(EffectiveAuthority(auth.RoleOrgAdmin)))
	assert.True(t, r.IsSuperAdmin(EffectiveAuthority(auth.RoleSuperAdmin)))
}
