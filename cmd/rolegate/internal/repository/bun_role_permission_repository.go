package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/bunx"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
)

// BunRolePermissionRepository implements RolePermissionRepository using Bun ORM
type BunRolePermissionRepository struct {
	db *bun.DB
}

// NewBunRolePermissionRepository creates a new Bun-based role permission repository
func NewBunRolePermissionRepository(db *bun.DB) RolePermissionRepository {
	return &BunRolePermissionRepository{db: db}
}

// PermissionsForRoles returns the permission column of every row whose role is in roles
func (r *BunRolePermissionRepository) PermissionsForRoles(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	var perms []string
	err := r.db.NewSelect().
		Model((*models.RolePermission)(nil)).
		Column("permission").
		Where("role IN (?)", bun.In(roles)).
		Scan(ctx, &perms)
	if err != nil {
		return nil, fmt.Errorf("query role permissions: %w", err)
	}
	return perms, nil
}

// Grant inserts a role→permission row
func (r *BunRolePermissionRepository) Grant(ctx context.Context, role, permission string) error {
	row := &models.RolePermission{
		ID:         bunx.NewUUIDv7(),
		Role:       role,
		Permission: permission,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

// Revoke deletes every row granting permission to role and returns how many were removed
func (r *BunRolePermissionRepository) Revoke(ctx context.Context, role, permission string) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*models.RolePermission)(nil)).
		Where("role = ?", role).
		Where("permission = ?", permission).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("revoke permission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return rows, nil
}
