package permissions

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/rolegate/cmd/rolegate/cmd/cmdutil"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant a permission to one or more roles",
	Long: `Inserts (role, permission) rows into role_permissions and drops cached
permission sets containing the affected roles.

A running server keeps its own in-memory cache; send it SIGHUP or call
DELETE /api/admin/permissions/cache?roles=... to pick up the change before
the cache TTL expires.

Example:
  rolegate permissions grant --role id_gen_printer --permission idcard:print
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return editPermissions(true)
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a permission from one or more roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return editPermissions(false)
	},
}

func editPermissions(grant bool) error {
	if strings.TrimSpace(permission) == "" {
		return fmt.Errorf("--permission is required")
	}
	roles, err := parseRoles(rolesInput)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Permissions.PolicyPath != "" {
		return fmt.Errorf("permissions are read from casbin policy %s; edit that file instead", cfg.Permissions.PolicyPath)
	}

	ctx := context.Background()
	bundle, err := cmdutil.NewIAMServiceBundle(ctx, cfg, cmdutil.IAMServiceOptions{})
	if err != nil {
		return err
	}
	defer bundle.Close()

	for _, role := range roles {
		if grant {
			if err := bundle.RolePermissions.Grant(ctx, string(role), permission); err != nil {
				return fmt.Errorf("failed to grant %s to %s: %w", permission, role, err)
			}
			fmt.Printf("Granted %s to %s\n", permission, role)
			continue
		}
		n, err := bundle.RolePermissions.Revoke(ctx, string(role), permission)
		if err != nil {
			return fmt.Errorf("failed to revoke %s from %s: %w", permission, role, err)
		}
		fmt.Printf("Revoked %s from %s (%d rows)\n", permission, role, n)
	}

	removed, err := bundle.Service.InvalidatePermissions(ctx, "", auth.RoleNames(roles))
	if err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	if removed > 0 {
		fmt.Printf("Dropped %d cached permission sets\n", removed)
	}
	return nil
}
