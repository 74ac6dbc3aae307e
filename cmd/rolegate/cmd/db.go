package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/bunx"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/migrations"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/repository"
)

// migratorStep runs against an open database with its migrator.
type migratorStep func(ctx context.Context, db *bun.DB, m *migrate.Migrator) error

// withMigrator opens the configured database and runs step. locked steps
// hold the migration lock for their whole duration.
func withMigrator(cmd *cobra.Command, locked bool, step migratorStep) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := bunx.Open(ctx, bunx.Options{DSN: cfg.DatabaseURL, MaxConns: cfg.MaxDBConnections})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer bunx.Close(db)

	m := migrate.NewMigrator(db, migrations.Migrations)
	if locked {
		if err := m.Lock(ctx); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		defer func() {
			if err := m.Unlock(ctx); err != nil {
				log.WithError(err).Warn("failed to release migration lock")
			}
		}()
	}
	return step(ctx, db, m)
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the identity schema: profiles, organizations, the role permission matrix and the emulation audit trail.`,
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize migration tables",
	Long:  `Creates the migration tracking tables. Run once before the first migrate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, false, func(ctx context.Context, _ *bun.DB, m *migrate.Migrator) error {
			if err := m.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize migrator: %w", err)
			}
			log.Info("migration tables initialized")
			return nil
		})
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Long: `Creates the identity tables and seeds the default role permission matrix.
The seed is skipped when role_permissions already has rows, so operator
grants and revokes survive re-runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, true, func(ctx context.Context, db *bun.DB, m *migrate.Migrator) error {
			group, err := m.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if group.IsZero() {
				log.Info("no new migrations to apply")
				return nil
			}

			summary, err := repository.Summarize(ctx, db)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"group":            group.ID,
				"migrations":       len(group.Migrations),
				"seeded_roles":     len(summary.PermissionsByRole),
				"role_permissions": sumCounts(summary.PermissionsByRole),
			}).Info("applied migration group")
			return nil
		})
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration and data status",
	Long: `Lists applied and pending migrations. Once the schema exists it also
reports profile and organization counts, the permission matrix size per role
and the emulation audit rows per status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, false, func(ctx context.Context, db *bun.DB, m *migrate.Migrator) error {
			ms, err := m.MigrationsWithStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MIGRATION\tSTATUS")
			for _, mg := range ms {
				status := "pending"
				if mg.GroupID > 0 {
					status = fmt.Sprintf("applied (group %d)", mg.GroupID)
				}
				fmt.Fprintf(w, "%s\t%s\n", mg.Name, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if len(ms.Unapplied()) == len(ms) {
				return nil
			}
			summary, err := repository.Summarize(ctx, db)
			if err != nil {
				return err
			}
			return printSummary(os.Stdout, summary)
		})
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the last migration group",
	Long:  `Rolls back the most recently applied migration group. Rolling back the seed removes the default permission matrix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, true, func(ctx context.Context, _ *bun.DB, m *migrate.Migrator) error {
			group, err := m.Rollback(ctx)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if group.IsZero() {
				log.Info("no migrations to roll back")
				return nil
			}
			log.WithField("group", group.ID).Info("rolled back migration group")
			return nil
		})
	},
}

var dbLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Acquire the migration lock",
	Long:  `Holds the migration lock so no serve instance migrates during maintenance. Release it with 'db unlock'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, false, func(ctx context.Context, _ *bun.DB, m *migrate.Migrator) error {
			if err := m.Lock(ctx); err != nil {
				return fmt.Errorf("failed to acquire migration lock: %w", err)
			}
			log.Info("migration lock acquired, run 'db unlock' when finished")
			return nil
		})
	},
}

var dbUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Force release the migration lock",
	Long:  `Releases a migration lock left behind by a crashed migrate or rollback.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, false, func(ctx context.Context, _ *bun.DB, m *migrate.Migrator) error {
			if err := m.Unlock(ctx); err != nil {
				return fmt.Errorf("failed to release migration lock: %w", err)
			}
			log.Info("migration lock released")
			return nil
		})
	},
}

func printSummary(out io.Writer, s *repository.Summary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\nPROFILES\tORGANIZATIONS\tSTORED EMULATIONS\n")
	fmt.Fprintf(w, "%d\t%d\t%d\n", s.Profiles, s.Organizations, s.StoredEmulations)

	fmt.Fprintf(w, "\nROLE\tPERMISSIONS\n")
	for _, role := range sortedKeys(s.PermissionsByRole) {
		fmt.Fprintf(w, "%s\t%d\n", role, s.PermissionsByRole[role])
	}

	if len(s.EmulationsByStatus) > 0 {
		fmt.Fprintf(w, "\nEMULATION STATUS\tSESSIONS\n")
		for _, status := range sortedKeys(s.EmulationsByStatus) {
			fmt.Fprintf(w, "%s\t%d\n", status, s.EmulationsByStatus[status])
		}
	}
	return w.Flush()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbInitCmd, dbMigrateCmd, dbStatusCmd, dbRollbackCmd, dbLockCmd, dbUnlockCmd)
}
