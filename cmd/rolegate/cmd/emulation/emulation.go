package emulation

import "github.com/spf13/cobra"

var (
	userID       string
	historyLimit int
)

// EmulationCmd is the parent command for operator role emulation commands
var EmulationCmd = &cobra.Command{
	Use:   "emulation",
	Short: "Inspect and stop role emulation",
	Long:  `Operator commands for a user's stored role emulation state and its audit trail.`,
}

func init() {
	EmulationCmd.PersistentFlags().StringVar(&userID, "user", "", "User ID whose emulation to inspect")

	EmulationCmd.AddCommand(statusCmd)
	EmulationCmd.AddCommand(stopCmd)
	EmulationCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of audit rows to list")
}
