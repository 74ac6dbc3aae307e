package profiles

import "github.com/spf13/cobra"

var (
	userID    string
	emailFlag string
	roleFlag  string
	orgFlag   string
	nameFlag  string
)

// ProfilesCmd is the parent command for profile and organization operations
var ProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage user profiles and organizations",
	Long:  `Commands for assigning profile roles and creating organizations directly from the server.`,
}

func init() {
	ProfilesCmd.AddCommand(setCmd)
	setCmd.Flags().StringVar(&userID, "user", "", "Provider user ID")
	setCmd.Flags().StringVar(&emailFlag, "email", "", "Email address")
	setCmd.Flags().StringVar(&roleFlag, "role", "user", "Assigned role")
	setCmd.Flags().StringVar(&orgFlag, "org", "", "Organization ID")

	ProfilesCmd.AddCommand(showCmd)
	showCmd.Flags().StringVar(&userID, "user", "", "Provider user ID")

	ProfilesCmd.AddCommand(createOrgCmd)
	createOrgCmd.Flags().StringVar(&orgFlag, "id", "", "Organization ID (generated when empty)")
	createOrgCmd.Flags().StringVar(&nameFlag, "name", "", "Organization name")
}
