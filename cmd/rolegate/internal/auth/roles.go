package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is an application role name from the closed role catalog.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleOrgAdmin   Role = "org_admin"

	RoleEventAdmin     Role = "event_admin"
	RoleEventQRChecker Role = "event_qr_checker"

	RoleIDGenAdmin            Role = "id_gen_admin"
	RoleIDGenEncoder          Role = "id_gen_encoder"
	RoleIDGenPrinter          Role = "id_gen_printer"
	RoleIDGenViewer           Role = "id_gen_viewer"
	RoleIDGenTemplateDesigner Role = "id_gen_template_designer"
	RoleIDGenAuditor          Role = "id_gen_auditor"
	RoleIDGenAccountant       Role = "id_gen_accountant"
	RoleIDGenUser             Role = "id_gen_user"

	RolePropertyAdmin       Role = "property_admin"
	RolePropertyManager     Role = "property_manager"
	RolePropertyMaintenance Role = "property_maintenance"
	RolePropertyAccountant  Role = "property_accountant"
	RolePropertyTenant      Role = "property_tenant"

	RoleUser Role = "user"
)

// KnownRoles is the role catalog shared by every app in the suite.
var KnownRoles = []Role{
	RoleSuperAdmin, RoleOrgAdmin,
	RoleEventAdmin, RoleEventQRChecker,
	RoleIDGenAdmin, RoleIDGenEncoder, RoleIDGenPrinter, RoleIDGenViewer,
	RoleIDGenTemplateDesigner, RoleIDGenAuditor, RoleIDGenAccountant, RoleIDGenUser,
	RolePropertyAdmin, RolePropertyManager, RolePropertyMaintenance, RolePropertyAccountant, RolePropertyTenant,
	RoleUser,
}

// ParseRole validates a role name against the catalog.
func ParseRole(name string) (Role, error) {
	candidate := Role(strings.TrimSpace(name))
	for _, r := range KnownRoles {
		if r == candidate {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, name)
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// RoleSet is an unordered set of roles.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from role names. Empty names are skipped.
func NewRoleSet(names ...string) RoleSet {
	set := make(RoleSet, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[Role(n)] = struct{}{}
		}
	}
	return set
}

// Has reports whether r is in the set. The empty role is never a member.
func (s RoleSet) Has(r Role) bool {
	if r == "" {
		return false
	}
	_, ok := s[r]
	return ok
}

// HasAny reports whether any of roles is in the set.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Slice returns the members sorted by name.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NormalizeRoles deduplicates, drops empty names and sorts the result.
func NormalizeRoles(roles []Role) []Role {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return set.Slice()
}

// RoleNames converts roles to plain strings, preserving order.
func RoleNames(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// RolesFromStrings converts plain strings to roles, preserving order.
func RolesFromStrings(names []string) []Role {
	out := make([]Role, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, Role(n))
		}
	}
	return out
}
