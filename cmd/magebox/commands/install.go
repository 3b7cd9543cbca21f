package commands

import (
	"fmt"

	"github.com/magebox/magebox/pkg/composer"
	"github.com/magebox/magebox/pkg/dockerhub"
	"github.com/magebox/magebox/pkg/progress"
	"github.com/magebox/magebox/pkg/prompt"
	"github.com/magebox/magebox/pkg/provision"
	"github.com/spf13/cobra"
)

func newInstallCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the project environment",
		Long: `Install the Magento project of the current directory.

This command:
  - Checks docker, make, mutagen and composer are available
  - Installs the composer dependencies
  - Configures the docker env file and the server name
  - Builds and starts the containers
  - Waits for the file synchronization when the start runs long
  - Optionally imports a database dump found in the project`,
		Example: `  # Interactive installation
  magebox install

  # Accept every default answer
  magebox install --yes

  # Do not bound the build and start durations
  magebox install --no-timeout`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd, version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			asker, closePrompt, err := prompt.Auto(assumeDefaults)
			if err != nil {
				return err
			}
			defer closePrompt()

			installer := provision.NewInstaller(provision.InstallerDeps{
				Env:          a.env,
				Prompt:       asker,
				Checker:      provision.NewChecker(a.runner, a.logger),
				Dependencies: composer.New(a.runner, a.env.Root(), a.logger),
				Lifecycle:    a.supervisor(),
				Sync:         a.filesync(),
				Tags:         dockerhub.New(a.cfg.Registry.URL, a.cfg.Registry.Namespace, a.logger),
				Importer:     a.compose(),
				Hosts:        provision.NewHosts(a.runner),
				Journal:      a.journal,
				Display:      func(title string) progress.Display { return a.display(title) },
				Out:          a.out,
				Logger:       a.logger,
			})

			report, err := installer.Install(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out)
			switch {
			case report.Ready():
				fmt.Fprintf(out, "Magento is accessible at http://www.%s\n", report.ServerName)
			case !report.HasMagentoEnv:
				fmt.Fprintln(out, "Containers are up. Install Magento inside the php container to finish the setup.")
				fmt.Fprintf(out, "The project will then be available at http://www.%s\n", report.ServerName)
			default:
				fmt.Fprintf(out, "Containers are up. Import a database with `magebox import` to browse http://www.%s\n", report.ServerName)
			}
			return nil
		},
	}

	return cmd
}
