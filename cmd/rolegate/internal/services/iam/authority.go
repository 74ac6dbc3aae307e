package iam

import (
	"time"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
)

// AuthorityContext bundles every signal that can establish who an identity
// really is, independent of which role they are currently acting as.
type AuthorityContext struct {
	Emulation *auth.EmulationState
	// Now is the instant emulation expiry is judged at. An expired state
	// vouches for nothing.
	Now time.Time

	ProfileRole  auth.Role
	Claims       *auth.RoleClaims
	MetadataRole auth.Role
}

// RoleSource extracts the roles one signal vouches for.
type RoleSource struct {
	Name  string
	Roles func(AuthorityContext) []auth.Role
}

// AuthoritySources are evaluated in order and OR-ed. Every source is
// consulted so a later match is never missed.
var AuthoritySources = []RoleSource{
	{
		// Anti-lockout: the pre-emulation role keeps counting while emulating.
		Name: "emulation_original",
		Roles: func(a AuthorityContext) []auth.Role {
			if a.Emulation.ActiveAt(a.Now) {
				return []auth.Role{a.Emulation.OriginalRole}
			}
			return nil
		},
	},
	{
		Name: "profile",
		Roles: func(a AuthorityContext) []auth.Role {
			return []auth.Role{a.ProfileRole}
		},
	},
	{
		Name: "claims",
		Roles: func(a AuthorityContext) []auth.Role {
			return a.Claims.Roles()
		},
	},
	{
		Name: "metadata",
		Roles: func(a AuthorityContext) []auth.Role {
			return []auth.Role{a.MetadataRole}
		},
	},
}

// AuthorityResolver decides super-admin, admin and role membership from the
// redundant signal sources.
type AuthorityResolver struct {
	superAdmin auth.RoleSet
	admin      auth.RoleSet
	orgAdmin   auth.RoleSet
	sources    []RoleSource
}

// NewAuthorityResolver builds the resolver from the configured role sets.
func NewAuthorityResolver(cfg config.RolesConfig) *AuthorityResolver {
	return &AuthorityResolver{
		superAdmin: auth.NewRoleSet(cfg.SuperAdmin...),
		admin:      auth.NewRoleSet(cfg.Admin...),
		orgAdmin:   auth.NewRoleSet(cfg.OrgAdmin...),
		sources:    AuthoritySources,
	}
}

// IsSuperAdmin reports whether any source holds a super-admin role.
func (r *AuthorityResolver) IsSuperAdmin(a AuthorityContext) bool {
	return len(r.MatchingSources(a, r.superAdmin)) > 0
}

// IsAdmin reports whether any source holds an admin role.
func (r *AuthorityResolver) IsAdmin(a AuthorityContext) bool {
	return len(r.MatchingSources(a, r.admin)) > 0
}

// IsOrgAdmin reports whether any source holds an organization-admin role.
func (r *AuthorityResolver) IsOrgAdmin(a AuthorityContext) bool {
	return len(r.MatchingSources(a, r.orgAdmin)) > 0
}

// HasRole reports whether any source holds one of required.
// Super admins hold every role.
func (r *AuthorityResolver) HasRole(a AuthorityContext, required ...auth.Role) bool {
	if r.IsSuperAdmin(a) {
		return true
	}
	set := make(auth.RoleSet, len(required))
	for _, role := range required {
		set[role] = struct{}{}
	}
	return len(r.MatchingSources(a, set)) > 0
}

// MatchingSources evaluates every source against set and returns the names of
// those that matched, in source order.
func (r *AuthorityResolver) MatchingSources(a AuthorityContext, set auth.RoleSet) []string {
	var matched []string
	for _, src := range r.sources {
		if set.HasAny(src.Roles(a)...) {
			matched = append(matched, src.Name)
		}
	}
	return matched
}

// OriginalRole picks the role to record when an identity starts emulating.
// The original role of an unexpired emulation is kept across restarts;
// otherwise the first super-admin role found on the profile, claims or
// metadata is used.
func (r *AuthorityResolver) OriginalRole(a AuthorityContext) auth.Role {
	if a.Emulation.ActiveAt(a.Now) {
		return a.Emulation.OriginalRole
	}
	for _, src := range r.sources[1:] {
		for _, role := range src.Roles(a) {
			if r.superAdmin.Has(role) {
				return role
			}
		}
	}
	return ""
}

// EffectiveAuthority is the single-source context of the role the identity is
// acting as. Gate checks against it before considering the full authority.
func EffectiveAuthority(role auth.Role) AuthorityContext {
	return AuthorityContext{ProfileRole: role}
}
