package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/magebox/magebox/pkg/prompt"
	"github.com/magebox/magebox/pkg/provision"
	"github.com/spf13/cobra"
)

func newBuildCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManaged(cmd, version, (*provision.Manager).Build)
		},
	}
}

func newStartCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the environment",
		Long: `Start the containers of the project.

A start that runs past its timeout is handed over to the file
synchronization: the session is ensured and monitored until synced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManaged(cmd, version, (*provision.Manager).Start)
		},
	}
}

func newStopCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManaged(cmd, version, (*provision.Manager).Stop)
		},
	}
}

func newUninstallCommand(version string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the containers and volumes of the project",
		Example: `  # Ask before removing anything
  magebox uninstall

  # Remove without confirmation
  magebox uninstall --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				asker, closePrompt, err := prompt.Auto(assumeDefaults)
				if err != nil {
					return err
				}
				ok, err := asker.Confirm(cmd.Context(), "Containers and volumes, including the database, will be removed. Continue ?", false)
				_ = closePrompt()
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Uninstall aborted.")
					return nil
				}
			}
			return runManaged(cmd, version, (*provision.Manager).Uninstall)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation")

	return cmd
}

func newSyncCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Ensure the file synchronization runs and wait until synced",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManaged(cmd, version, (*provision.Manager).Sync)
		},
	}
}

func newImportCommand(version string) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "import <dump>",
		Short: "Import a database dump",
		Long: `Import a .sql, .sql.gz or .sql.zip dump into the mysql container.

The database defaults to MYSQL_DATABASE of the docker env file.`,
		Example: `  magebox import dumps/shop.sql.gz
  magebox import shop.sql --database shop_test`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dump, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return runManaged(cmd, version, func(m *provision.Manager, ctx context.Context) error {
				return m.Import(ctx, dump, database)
			})
		},
	}

	cmd.Flags().StringVarP(&database, "database", "d", "", "target database")

	return cmd
}
