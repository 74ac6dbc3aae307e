package emulation

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/rolegate/cmd/rolegate/cmd/cmdutil"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/repository"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a user's stored emulation state",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := openBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		status, err := bundle.Service.LoadEmulation(context.Background(), userID)
		if err != nil {
			return fmt.Errorf("failed to load emulation for %s: %w", userID, err)
		}

		state := status.State
		if state == nil || !state.IsRecorded() {
			fmt.Printf("User %s is not emulating\n", userID)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "User:\t%s\n", userID)
		fmt.Fprintf(w, "Emulated role:\t%s\n", state.EmulatedRole)
		fmt.Fprintf(w, "Original role:\t%s\n", state.OriginalRole)
		if state.EmulatedOrgID != nil {
			fmt.Fprintf(w, "Emulated org:\t%s\n", *state.EmulatedOrgID)
		}
		fmt.Fprintf(w, "Started:\t%s\n", formatTime(state.StartedAt))
		fmt.Fprintf(w, "Expires:\t%s\n", formatTime(state.ExpiresAt))
		switch {
		case status.Expired:
			fmt.Fprintf(w, "Status:\texpired\n")
		case status.ExpiringSoon:
			fmt.Fprintf(w, "Status:\tactive (expiring soon)\n")
		default:
			fmt.Fprintf(w, "Status:\tactive\n")
		}
		return w.Flush()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a user's emulation (operator override)",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := openBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.Service.ForceStopEmulation(context.Background(), userID); err != nil {
			return fmt.Errorf("failed to stop emulation for %s: %w", userID, err)
		}
		fmt.Printf("Emulation stopped for %s\n", userID)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List a user's emulation audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := openBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		rows, err := repository.NewBunEmulationRepository(bundle.DB).History(context.Background(), userID, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list emulation history for %s: %w", userID, err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMULATED_ROLE\tORIGINAL_ROLE\tSTATUS\tSTARTED_AT\tENDED_AT\tIP")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				row.ID,
				row.EmulatedRole,
				row.OriginalRole,
				row.Status,
				row.StartedAt.Format(time.RFC3339),
				formatTime(row.EndedAt),
				deref(row.IPAddress),
			)
		}
		return w.Flush()
	},
}

func openBundle() (*cmdutil.IAMServiceBundle, error) {
	if userID == "" {
		return nil, fmt.Errorf("--user is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cmdutil.NewIAMServiceBundle(context.Background(), cfg, cmdutil.IAMServiceOptions{})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
