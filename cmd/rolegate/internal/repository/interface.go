package repository

import (
	"context"
	"errors"
	"time"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
)

// ErrNotFound is wrapped by every repository lookup that matches no row.
var ErrNotFound = errors.New("not found")

// ProfileRepository exposes persistence operations for application profiles.
type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) error
	UpdateRole(ctx context.Context, userID, role string, orgID *string) error
}

// OrganizationRepository exposes persistence operations for organizations.
type OrganizationRepository interface {
	Create(ctx context.Context, org *models.Organization) error
	GetByID(ctx context.Context, id string) (*models.Organization, error)
}

// RolePermissionRepository is the backing permission store.
type RolePermissionRepository interface {
	// PermissionsForRoles runs SELECT permission FROM role_permissions WHERE role IN (roles).
	// Rows are returned as stored, duplicates included.
	PermissionsForRoles(ctx context.Context, roles []string) ([]string, error)
	Grant(ctx context.Context, role, permission string) error
	Revoke(ctx context.Context, role, permission string) (int64, error)
}

// EmulationRepository persists emulation state on the profile together with
// the start/stop audit trail. Both writes happen in one transaction.
type EmulationRepository interface {
	// Load returns the stored emulation column for userID, or nil when none is recorded.
	Load(ctx context.Context, userID string) (*models.EmulationColumn, error)

	// Start supersedes any active audit row for the identity, records the new
	// audit row and overwrites the profile's emulation column.
	Start(ctx context.Context, state *models.EmulationColumn, audit *models.RoleEmulationSession) error

	// Stop clears the profile's emulation column and ends active audit rows.
	// Returns the number of audit rows ended.
	Stop(ctx context.Context, userID string, endedAt time.Time) (int64, error)

	// History lists audit rows for userID, newest first.
	History(ctx context.Context, userID string, limit int) ([]models.RoleEmulationSession, error)
}
