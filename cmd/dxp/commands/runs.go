package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dataxchange/dxp/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var (
		limit  int
		offset int
		del    bool
	)

	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List, show or delete recorded runs",
		Long: `List the runs recorded in the store, newest first.

With a run ID, show that run with its action outcomes and logged events.
With --delete, remove the run together with its outcomes, events and records.`,
		Example: `  # Show the last 10 runs
  dxp runs --limit 10

  # As JSON, including action outcomes
  dxp runs --json

  # Show one run
  dxp runs 6f1c2a0e-4d7b-4f5e-9a51-1d3c0b9e8f21

  # Delete it
  dxp runs --delete 6f1c2a0e-4d7b-4f5e-9a51-1d3c0b9e8f21`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if del && len(args) == 0 {
				return fmt.Errorf("--delete requires a run ID")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if a.sqlite == nil {
				return fmt.Errorf("runs are only recorded with the sqlite store driver")
			}

			out := cmd.OutOrStdout()
			switch {
			case del:
				if err := a.sqlite.DeleteRun(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted run %s\n", args[0])
				return nil
			case len(args) == 1:
				return showRun(ctx, out, a.sqlite, args[0])
			}

			runs, err := a.sqlite.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				for _, run := range runs {
					if run.Outcomes, err = a.sqlite.ListOutcomes(ctx, run.ID); err != nil {
						return err
					}
				}
				return writeJSON(out, runs)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tPACKAGE\tSTATUS\tSTARTED\tDURATION\tERROR")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.Kind, run.Package, run.Status,
					run.StartedAt.Local().Format(time.DateTime),
					time.Duration(run.DurationMS)*time.Millisecond, deref(run.Error))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	cmd.Flags().BoolVar(&del, "delete", false, "delete the given run")

	return cmd
}

// runDetail is the JSON form of dxp runs <id>.
type runDetail struct {
	*stores.Run
	Events []*stores.Event `json:"events"`
}

func showRun(ctx context.Context, out io.Writer, store stores.Store, id string) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	events, err := store.GetEvents(ctx, stores.EventFilter{RunID: &id})
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(out, runDetail{Run: run, Events: events})
	}

	fmt.Fprintf(out, "Run %s (%s %s): %s in %s\n", run.ID, run.Kind, run.Package, run.Status,
		time.Duration(run.DurationMS)*time.Millisecond)
	if run.Error != nil {
		fmt.Fprintf(out, "Error: %s\n", *run.Error)
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tPROVIDER\tSTATUS\tROWS\tRECORDS\tFAILED\tERROR")
	for _, o := range run.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			o.Action, o.Provider, o.Status, o.Rows, o.Records, o.FailedRows, deref(o.Error))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nEvents:")
	// newest first from the store
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		fmt.Fprintf(out, "  %s %-7s %s %s\n", e.Timestamp.Local().Format(time.DateTime), e.Level, e.Type, e.Message)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
