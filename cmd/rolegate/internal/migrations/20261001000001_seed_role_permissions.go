package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/bunx"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

// DefaultRolePermissions is the permission matrix seeded on first install.
var DefaultRolePermissions = map[string][]string{
	"super_admin": {
		"template:create", "template:read", "template:update", "template:delete", "template:publish",
		"idcard:create", "idcard:read", "idcard:update", "idcard:delete", "idcard:bulk_ops",
		"org:read", "org:update", "org:manage_users", "org:manage_settings", "org:view_stats",
		"admin:manage_all_orgs", "admin:impersonate", "admin:system_settings", "admin:audit_logs",
		"billing:view", "billing:manage",
	},
	"org_admin": {
		"template:create", "template:read", "template:update", "template:delete", "template:publish",
		"idcard:create", "idcard:read", "idcard:update", "idcard:delete", "idcard:bulk_ops",
		"org:read", "org:update", "org:manage_users", "org:manage_settings", "org:view_stats",
		"billing:view", "billing:manage",
	},
	"id_gen_admin": {
		"template:create", "template:read", "template:update", "template:delete", "template:publish",
		"idcard:create", "idcard:read", "idcard:update", "idcard:delete", "idcard:bulk_ops",
		"org:read", "org:view_stats",
	},
	"id_gen_template_designer": {"template:create", "template:read", "template:update"},
	"id_gen_encoder":           {"template:read", "idcard:create", "idcard:read", "idcard:update"},
	"id_gen_printer":           {"template:read", "idcard:read", "idcard:bulk_ops"},
	"id_gen_viewer":            {"template:read", "idcard:read"},
	"id_gen_auditor":           {"idcard:read", "org:view_stats", "admin:audit_logs"},
	"id_gen_accountant":        {"billing:view", "billing:manage", "org:view_stats"},
	"id_gen_user":              {"template:read", "idcard:create", "idcard:read"},
	"event_admin":              {"org:read", "org:view_stats"},
	"property_admin":           {"org:read", "org:update", "org:view_stats", "billing:view"},
	"user":                     {"template:read", "idcard:read"},
}

// up_20261001000001 seeds the default role permission matrix
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] seeding role permissions...")

	count, err := db.NewSelect().Model((*models.RolePermission)(nil)).Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count role permissions: %w", err)
	}
	if count > 0 {
		fmt.Println(" SKIPPED (already seeded)")
		return nil
	}

	var rows []models.RolePermission
	for role, perms := range DefaultRolePermissions {
		for _, perm := range perms {
			rows = append(rows, models.RolePermission{
				ID:         bunx.NewUUIDv7(),
				Role:       role,
				Permission: perm,
			})
		}
	}

	if _, err := db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to seed role permissions: %w", err)
	}
	fmt.Println(" OK")
	return nil
}

// down_20261001000001 removes the seeded rows
func down_20261001000001(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDelete().
		Model((*models.RolePermission)(nil)).
		Where("1 = 1").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete role permissions: %w", err)
	}
	fmt.Println(" [down] removed role permissions")
	return nil
}
