package iam

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
)

var (
	// ErrInvalidDuration rejects emulation durations outside (0, max].
	ErrInvalidDuration = errors.New("invalid emulation duration")

	// ErrOrganizationRequired rejects org_admin emulation without an organization.
	ErrOrganizationRequired = errors.New("emulated organization is required for this role")
)

// Service composes identity and authority resolution.
//
// This service centralizes:
//   - Request resolution (session, profile, emulation, authority, permissions)
//   - Route access decisions (path access matrix, bypass)
//   - Role emulation (start/stop, admin operations)
//   - Permission cache administration (out-of-band)
type Service interface {
	// =========================================================================
	// Request Path
	// =========================================================================

	// Resolve establishes the session and computes the effective context.
	//
	// Returns:
	//   - ErrUnauthenticated / ErrSessionInvalid: no usable session
	//   - ErrProfileNotFound: the identity has no profile (fatal for the request)
	//   - ErrBackingStoreUnavailable: the profile could not be read
	//
	// Permission lookup failures never fail Resolve; they yield an empty set.
	Resolve(ctx context.Context, r *http.Request, w http.ResponseWriter) (*Resolution, error)

	// Authorize evaluates the access matrix rule for path/method.
	Authorize(res *Resolution, path, method string, bypassRequested bool) Decision

	// AdminStatus summarizes the resolution for whoami.
	AdminStatus(res *Resolution) AdminStatus

	// =========================================================================
	// Role Emulation
	// =========================================================================

	// StartEmulation requires the caller's non-emulated authority to be super admin.
	StartEmulation(ctx context.Context, res *Resolution, req StartEmulationRequest) (*auth.EmulationState, error)

	// StopEmulation requires the caller to have a recorded emulation, expired or not.
	StopEmulation(ctx context.Context, res *Resolution) error

	// EmulationStatus describes the caller's stored emulation.
	EmulationStatus(res *Resolution) EmulationStatus

	// EmulatableRoles lists the roles a super admin may emulate.
	EmulatableRoles() []auth.Role

	// =========================================================================
	// Operator commands (no request context)
	// =========================================================================

	// LoadEmulation reads the stored emulation state for userID.
	LoadEmulation(ctx context.Context, userID string) (EmulationStatus, error)

	// ForceStopEmulation clears emulation for userID without caller checks.
	ForceStopEmulation(ctx context.Context, userID string) error

	// =========================================================================
	// Permissions
	// =========================================================================

	// ResolvePermissions resolves a role set through the cache.
	ResolvePermissions(ctx context.Context, roles []auth.Role) auth.PermissionSet

	// PermissionCacheStats reports cache size and age.
	PermissionCacheStats(ctx context.Context) (CacheStats, error)

	// InvalidatePermissions drops cache entries for a user, for roles, or all
	// entries when both are empty. Returns the number of entries removed (-1 for a full clear).
	InvalidatePermissions(ctx context.Context, userID string, roles []string) (int, error)

	// CleanupPermissionCache purges expired cache entries.
	CleanupPermissionCache(ctx context.Context) (int, error)
}

// Resolution is everything derived for one request.
type Resolution struct {
	Session *auth.Session
	User    *auth.User
	Profile *models.Profile
	Claims  *auth.RoleClaims

	// Emulation is the state as stored, expired or not.
	Emulation *auth.EmulationState

	Authority AuthorityContext
	Effective *auth.EffectiveContext
}

// AdminStatus is the admin verdict and role summary served by whoami.
type AdminStatus struct {
	IsSuperAdmin  bool      `json:"isSuperAdmin"`
	IsAdmin       bool      `json:"isAdmin"`
	UserRole      auth.Role `json:"userRole"`
	EffectiveRole auth.Role `json:"effectiveRole"`
	IsEmulating   bool      `json:"isEmulating"`
	OriginalRole  auth.Role `json:"originalRole,omitempty"`
}

// EmulationStatus describes stored emulation with its read-time classification.
type EmulationStatus struct {
	State        *auth.EmulationState `json:"state"`
	Active       bool                 `json:"active"`
	Expired      bool                 `json:"expired"`
	ExpiringSoon bool                 `json:"expiringSoon"`
	ExpiresAt    *time.Time           `json:"expiresAt,omitempty"`
}

// StartEmulationRequest is the validated payload of an emulation start.
type StartEmulationRequest struct {
	TargetRole    string
	DurationHours float64
	EmulatedOrgID *string
	IPAddress     string
	UserAgent     string
}
