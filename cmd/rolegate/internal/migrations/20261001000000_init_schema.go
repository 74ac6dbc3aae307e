package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000000, down_20261001000000)
}

// up_20261001000000 creates the identity, permission and emulation audit tables
func up_20261001000000(ctx context.Context, db *bun.DB) error {
	// 1. Create organizations table
	fmt.Print(" [up] creating organizations table...")
	_, err := db.NewCreateTable().
		Model((*models.Organization)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create organizations table: %w", err)
	}
	fmt.Println(" OK")

	// 2. Create profiles table
	fmt.Print(" [up] creating profiles table...")
	_, err = db.NewCreateTable().
		Model((*models.Profile)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create profiles table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_profiles_org_id ON profiles(org_id)`)
	if err != nil {
		return fmt.Errorf("failed to create profiles org_id index: %w", err)
	}
	fmt.Println(" OK")

	// 3. Create role_permissions table (no unique constraint: duplicates collapse on read)
	fmt.Print(" [up] creating role_permissions table...")
	_, err = db.NewCreateTable().
		Model((*models.RolePermission)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create role_permissions table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_role_permissions_role ON role_permissions(role)`)
	if err != nil {
		return fmt.Errorf("failed to create role_permissions role index: %w", err)
	}
	fmt.Println(" OK")

	// 4. Create role_emulation_sessions audit table
	fmt.Print(" [up] creating role_emulation_sessions table...")
	_, err = db.NewCreateTable().
		Model((*models.RoleEmulationSession)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create role_emulation_sessions table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_role_emulation_sessions_user_status ON role_emulation_sessions(user_id, status)`)
	if err != nil {
		return fmt.Errorf("failed to create role_emulation_sessions index: %w", err)
	}

	// SQLite cannot add constraints to an existing table
	if IsPostgreSQL(db) {
		_, err = db.ExecContext(ctx, `
			ALTER TABLE role_emulation_sessions
			ADD CONSTRAINT chk_role_emulation_sessions_status
			CHECK (status IN ('active', 'ended', 'superseded'))
		`)
		if err != nil {
			return fmt.Errorf("failed to add role_emulation_sessions status check: %w", err)
		}
	}
	fmt.Println(" OK")

	return nil
}

// down_20261001000000 drops the tables in reverse order
func down_20261001000000(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{
		(*models.RoleEmulationSession)(nil),
		(*models.RolePermission)(nil),
		(*models.Profile)(nil),
		(*models.Organization)(nil),
	} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	fmt.Println(" [down] dropped identity tables")
	return nil
}
