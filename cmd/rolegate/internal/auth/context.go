package auth

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// PermissionSet is an unordered set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set, collapsing duplicates.
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// Has reports whether perm is granted.
func (p PermissionSet) Has(perm string) bool {
	_, ok := p[perm]
	return ok
}

// Sorted returns the permissions in lexical order.
func (p PermissionSet) Sorted() []string {
	out := make([]string, 0, len(p))
	for perm := range p {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON renders the set as a sorted array.
func (p PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Sorted())
}

// EffectiveContext is the per-request authority outcome handed to business logic.
// It is recomputed on every request and never persisted.
type EffectiveContext struct {
	UserID         string        `json:"user_id"`
	Email          string        `json:"email,omitempty"`
	ProfileRole    Role          `json:"profile_role,omitempty"`
	EffectiveRole  Role          `json:"effective_role"`
	EffectiveOrgID string        `json:"effective_org_id,omitempty"`
	IsEmulating    bool          `json:"is_emulating"`
	OriginalRole   Role          `json:"original_role,omitempty"`
	EmulationEnds  *time.Time    `json:"emulation_expires_at,omitempty"`
	IsSuperAdmin   bool          `json:"is_super_admin"`
	IsAdmin        bool          `json:"is_admin"`
	Permissions    PermissionSet `json:"permissions"`
}

// HasPermission reports whether the effective permission set grants perm.
func (c *EffectiveContext) HasPermission(perm string) bool {
	return c != nil && c.Permissions.Has(perm)
}

type effectiveContextKey struct{}

// SetEffectiveContext stores the resolved effective context on the request context.
func SetEffectiveContext(ctx context.Context, ec *EffectiveContext) context.Context {
	return context.WithValue(ctx, effectiveContextKey{}, ec)
}

// GetEffectiveContext retrieves the effective context set by the access gate.
func GetEffectiveContext(ctx context.Context) (*EffectiveContext, bool) {
	ec, ok := ctx.Value(effectiveContextKey{}).(*EffectiveContext)
	return ec, ok && ec != nil
}
