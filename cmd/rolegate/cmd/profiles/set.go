package profiles

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/bunx"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/repository"
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update a profile's role and organization",
	Long: `Upserts the profile for a provider user. Any stored emulation is
stopped, since its recorded original role may no longer hold.

Example:
  rolegate profiles set --user 3f1c... --email ops@example.com --role super_admin
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user flag is required")
		}
		if emailFlag != "" {
			if _, err := mail.ParseAddress(emailFlag); err != nil {
				return fmt.Errorf("invalid email: %w", err)
			}
		}
		role, err := auth.ParseRole(roleFlag)
		if err != nil {
			return err
		}

		return withDB(func(ctx context.Context, db *bun.DB) error {
			var orgID *string
			if orgFlag != "" {
				if _, err := repository.NewBunOrganizationRepository(db).GetByID(ctx, orgFlag); err != nil {
					return fmt.Errorf("organization %s: %w", orgFlag, err)
				}
				orgID = &orgFlag
			}

			profile := &models.Profile{
				UserID: userID,
				Email:  emailFlag,
				Role:   string(role),
				OrgID:  orgID,
			}
			if err := repository.NewBunProfileRepository(db).Upsert(ctx, profile); err != nil {
				return err
			}
			if _, err := repository.NewBunEmulationRepository(db).Stop(ctx, userID, time.Now().UTC()); err != nil {
				return fmt.Errorf("stop stored emulation: %w", err)
			}
			fmt.Printf("Profile %s now has role %s\n", userID, role)
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user flag is required")
		}

		return withDB(func(ctx context.Context, db *bun.DB) error {
			profile, err := repository.NewBunProfileRepository(db).GetByUserID(ctx, userID)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("no profile for user %s", userID)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "User:\t%s\n", profile.UserID)
			fmt.Fprintf(w, "Email:\t%s\n", profile.Email)
			fmt.Fprintf(w, "Role:\t%s\n", profile.Role)
			if profile.OrgID != nil {
				fmt.Fprintf(w, "Organization:\t%s\n", *profile.OrgID)
			}
			emulating := profile.Emulation != nil && profile.Emulation.Active
			fmt.Fprintf(w, "Emulating:\t%t\n", emulating)
			if emulating {
				fmt.Fprintf(w, "Emulated role:\t%s\n", profile.Emulation.EmulatedRole)
			}
			return w.Flush()
		})
	},
}

var createOrgCmd = &cobra.Command{
	Use:   "create-org",
	Short: "Create an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		if nameFlag == "" {
			return fmt.Errorf("--name flag is required")
		}

		return withDB(func(ctx context.Context, db *bun.DB) error {
			id := orgFlag
			if id == "" {
				id = bunx.NewUUIDv7()
			}
			org := &models.Organization{ID: id, Name: nameFlag}
			if err := repository.NewBunOrganizationRepository(db).Create(ctx, org); err != nil {
				return err
			}
			fmt.Printf("Created organization %s (%s)\n", org.Name, org.ID)
			return nil
		})
	},
}

func withDB(fn func(ctx context.Context, db *bun.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer bunx.Close(db)

	return fn(context.Background(), db)
}
