package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath     string
	verbose        bool
	noTimeout      bool
	logLevel       string
	assumeDefaults bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "magebox",
		Short: "Magebox - Magento docker environments",
		Long: `Magebox installs and drives Magento 2 projects running on the
emakinafr/docker-magento2 environment.

Features:
  - One command installation from a fresh checkout
  - Supervised build, start, stop and uninstall with progress bars
  - Mutagen file synchronization monitoring
  - Docker env file configuration
  - Journal of every run`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ~/.magebox/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noTimeout, "no-timeout", false, "disable operation timeouts")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&assumeDefaults, "yes", "y", false, "answer every question with its default")

	rootCmd.AddCommand(newInstallCommand(version))
	rootCmd.AddCommand(newBuildCommand(version))
	rootCmd.AddCommand(newStartCommand(version))
	rootCmd.AddCommand(newStopCommand(version))
	rootCmd.AddCommand(newUninstallCommand(version))
	rootCmd.AddCommand(newSyncCommand(version))
	rootCmd.AddCommand(newImportCommand(version))
	rootCmd.AddCommand(newEnvCommand(version))
	rootCmd.AddCommand(newHistoryCommand(version))

	return rootCmd
}
