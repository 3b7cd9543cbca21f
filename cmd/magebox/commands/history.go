package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/magebox/magebox/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand(version string) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show the journal of past runs",
		Long: `List the recent magebox runs, or the operations of one run.

Every install, build, start, stop, uninstall, sync and import is recorded
with its phases, exit codes and progress counts.`,
		Example: `  # Last runs
  magebox history

  # Operations of one run
  magebox history 0b6c5e0e-6e1f-4b43-9a55-3b8c8c2c1f10

  # Machine readable
  magebox history --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd, version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := a.journal.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				ops, err := a.journal.ListOperations(ctx, run.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, map[string]any{"run": run, "operations": ops})
				}
				printRun(out, run, ops)
				return nil
			}

			runs, err := a.journal.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, runs)
			}
			printRuns(out, runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRuns(w io.Writer, runs []*stores.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMMAND\tSTATUS\tSTARTED\tDURATION\tPROJECT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Command, r.Status, humanize.Time(r.StartedAt), r.Duration().Round(time.Second), r.Root)
	}
	_ = tw.Flush()
}

func printRun(w io.Writer, run *stores.Run, ops []*stores.Operation) {
	fmt.Fprintf(w, "Run %s: %s %s (%s)\n", run.ID, run.Command, run.Status, humanize.Time(run.StartedAt))
	fmt.Fprintf(w, "Project: %s\n", run.Root)
	if run.Error != nil {
		fmt.Fprintf(w, "Error: %s\n", *run.Error)
	}
	if len(ops) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tSTATUS\tEXIT\tPROGRESS\tDURATION")
	for _, op := range ops {
		progress := "-"
		if op.Total > 0 {
			progress = fmt.Sprintf("%d/%d", op.Completed, op.Total)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", op.Name, op.Status, op.ExitCode, progress, op.Duration.Round(time.Millisecond))
	}
	_ = tw.Flush()
}
