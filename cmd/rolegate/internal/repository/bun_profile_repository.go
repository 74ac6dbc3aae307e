package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
)

// ========================================
// Profile Repository
// ========================================

// BunProfileRepository implements ProfileRepository using Bun ORM
type BunProfileRepository struct {
	db *bun.DB
}

// NewBunProfileRepository creates a new Bun-based profile repository
func NewBunProfileRepository(db *bun.DB) ProfileRepository {
	return &BunProfileRepository{db: db}
}

// GetByUserID retrieves the profile for a provider user
func (r *BunProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	profile := new(models.Profile)
	err := r.db.NewSelect().
		Model(profile).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// Upsert inserts a profile or updates its email, role and org. The emulation
// column is left untouched on conflict.
func (r *BunProfileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	if profile.Role == "" {
		profile.Role = "user"
	}
	profile.UpdatedAt = time.Now().UTC()

	_, err := r.db.NewInsert().
		Model(profile).
		On("CONFLICT (user_id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("role = EXCLUDED.role").
		Set("org_id = EXCLUDED.org_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// UpdateRole changes the assigned role and organization of a profile and
// drops any stored emulation, whose original role no longer holds.
func (r *BunProfileRepository) UpdateRole(ctx context.Context, userID, role string, orgID *string) error {
	result, err := r.db.NewUpdate().
		Model((*models.Profile)(nil)).
		Set("role = ?", role).
		Set("org_id = ?", orgID).
		Set("emulation = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update profile role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return nil
}

// ========================================
// Organization Repository
// ========================================

// BunOrganizationRepository implements OrganizationRepository using Bun ORM
type BunOrganizationRepository struct {
	db *bun.DB
}

// NewBunOrganizationRepository creates a new Bun-based organization repository
func NewBunOrganizationRepository(db *bun.DB) OrganizationRepository {
	return &BunOrganizationRepository{db: db}
}

// Create inserts a new organization
func (r *BunOrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	_, err := r.db.NewInsert().
		Model(org).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// GetByID retrieves an organization by ID
func (r *BunOrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	org := new(models.Organization)
	err := r.db.NewSelect().
		Model(org).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}
