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

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a role set to its permissions",
	Long: `Resolves the union of permissions granted to the given roles through the
configured permission store (role_permissions table or casbin policy file).

Example:
  rolegate permissions resolve --role id_gen_admin --role event_admin
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		roles, err := parseRoles(rolesInput)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx := context.Background()
		bundle, err := cmdutil.NewIAMServiceBundle(ctx, cfg, cmdutil.IAMServiceOptions{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		perms := bundle.Service.ResolvePermissions(ctx, roles)

		fmt.Printf("Roles: %s\n", strings.Join(auth.RoleNames(roles), ", "))
		if len(perms) == 0 {
			fmt.Println("No permissions granted")
			return nil
		}
		fmt.Println("Permissions:")
		for _, p := range perms.Sorted() {
			fmt.Printf("  %s\n", p)
		}
		return nil
	},
}

// parseRoles validates role names against the role catalog.
func parseRoles(input []string) ([]auth.Role, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("at least one --role must be specified")
	}

	var invalid []string
	roles := make([]auth.Role, 0, len(input))
	for _, name := range input {
		role, err := auth.ParseRole(name)
		if err != nil {
			invalid = append(invalid, name)
			continue
		}
		roles = append(roles, role)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid role(s): %s\nValid roles are: %s",
			strings.Join(invalid, ", "),
			strings.Join(auth.RoleNames(auth.KnownRoles), ", "))
	}
	return auth.NormalizeRoles(roles), nil
}
