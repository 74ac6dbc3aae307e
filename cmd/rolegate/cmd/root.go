package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/terraconstructs/rolegate/cmd/rolegate/cmd/emulation"
	"github.com/terraconstructs/rolegate/cmd/rolegate/cmd/permissions"
	"github.com/terraconstructs/rolegate/cmd/rolegate/cmd/profiles"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
)

var (
	cfg        *config.Config
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "rolegate",
	Short: "Identity and authority gate for the application suite",
	Long: `rolegate resolves who is calling, which role they act under, and what
they may access. It serves the access gate over HTTP and provides operator
commands for permissions, profiles and role emulation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		configureLogging(cfg.Debug)
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: ROLEGATE_DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: ROLEGATE_SERVER_ADDR)")
	rootCmd.PersistentFlags().String("server-url", "", "Public base URL (env: ROLEGATE_SERVER_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: ROLEGATE_DEBUG)")

	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("db-url"))
	_ = viper.BindPFlag("server_addr", rootCmd.PersistentFlags().Lookup("server-addr"))
	_ = viper.BindPFlag("server_url", rootCmd.PersistentFlags().Lookup("server-url"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	// Add subcommands
	rootCmd.AddCommand(permissions.PermissionsCmd)
	rootCmd.AddCommand(emulation.EmulationCmd)
	rootCmd.AddCommand(profiles.ProfilesCmd)
}

// configureLogging sets the logrus level and formatter for the process.
func configureLogging(debug bool) {
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.JSONFormatter{})
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
