package commands

import (
	"fmt"

	"github.com/magebox/magebox/pkg/envfile"
	"github.com/magebox/magebox/pkg/prompt"
	"github.com/spf13/cobra"
)

func newEnvCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Read and edit the docker env file",
		Long: `Read and edit docker/local/.env of the current project.

Edits keep comments, ordering and formatting of the file untouched.`,
	}

	cmd.AddCommand(newEnvGetCommand(version))
	cmd.AddCommand(newEnvSetCommand(version))
	cmd.AddCommand(newEnvConfigureCommand(version))
	cmd.AddCommand(newEnvWatchCommand(version))

	return cmd
}

func newEnvGetCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print one variable, or every variable",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd, version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			file, err := a.env.LocalEnv()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if !file.Has(args[0]) {
					return fmt.Errorf("%s is not defined in %s", args[0], a.cfg.Paths.LocalEnv)
				}
				fmt.Fprintln(out, file.Get(args[0]))
				return nil
			}
			for _, e := range file.Entries() {
				fmt.Fprintf(out, "%s=%s\n", e.Key, e.Value)
			}
			return nil
		},
	}
}

func newEnvSetCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change the value of an existing variable",
		Example: `  magebox env set DOCKER_PHP_IMAGE 7.4`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd, version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			file, err := a.env.LocalEnv()
			if err != nil {
				return err
			}
			if err := file.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := a.env.SaveLocalEnv(); err != nil {
				return err
			}
			a.logger.Debug().Str("key", args[0]).Msg("Env variable updated")
			return nil
		},
	}
}

func newEnvConfigureCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "configure <section>",
		Short: "Ask for every variable of a section",
		Long: `Ask for a new value of every variable whose name starts with the
section prefix. An empty answer keeps the current value.`,
		Example: `  magebox env configure blackfire`,
		Args:    cobra.ExactArgs(1),
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

			file, err := a.env.LocalEnv()
			if err != nil {
				return err
			}
			res, err := file.ConfigureSection(ctx, args[0], asker)
			if err != nil {
				return err
			}
			if res.Empty() {
				fmt.Fprintf(cmd.OutOrStdout(), "Type %s has no configuration, maybe it is not supported yet or there's nothing to configure.\n", args[0])
				return nil
			}
			if err := a.env.SaveLocalEnv(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d variables updated.\n", res.Changed, res.Matched)
			return nil
		},
	}
}

func newEnvWatchCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report changes made to the env file",
		Long: `Watch docker/local/.env and print the variables changed by other
programs, until interrupted. Image changes require a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd, version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			out := cmd.OutOrStdout()
			watcher := envfile.NewWatcher(a.env.Path(a.cfg.Paths.LocalEnv), a.logger)
			return watcher.Watch(ctx, func(changes []envfile.Change) {
				for _, c := range changes {
					switch {
					case c.Added:
						fmt.Fprintf(out, "+ %s=%s\n", c.Key, c.New)
					case c.Removed:
						fmt.Fprintf(out, "- %s\n", c.Key)
					default:
						fmt.Fprintf(out, "~ %s: %s -> %s\n", c.Key, c.Old, c.New)
					}
				}
			})
		},
	}
}
