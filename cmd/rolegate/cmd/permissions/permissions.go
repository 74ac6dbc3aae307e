package permissions

import "github.com/spf13/cobra"

var (
	rolesInput []string
	permission string
)

// PermissionsCmd is the parent command for role permission operations
var PermissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Inspect and manage role permissions",
	Long:  `Commands for resolving role sets to permissions and editing the role_permissions table.`,
}

func init() {
	PermissionsCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) to resolve")

	PermissionsCmd.AddCommand(grantCmd)
	grantCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) to grant the permission to")
	grantCmd.Flags().StringVar(&permission, "permission", "", "Permission to grant")

	PermissionsCmd.AddCommand(revokeCmd)
	revokeCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) to revoke the permission from")
	revokeCmd.Flags().StringVar(&permission, "permission", "", "Permission to revoke")
}
