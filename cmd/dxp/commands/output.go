package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dataxchange/dxp/pkg/engine"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport prints a run report as a table, or as JSON with --json.
func printReport(w io.Writer, report *engine.RunReport) error {
	if jsonOutput {
		return writeJSON(w, report)
	}

	fmt.Fprintf(w, "Run %s (%s %s) %s in %s\n",
		report.ID, report.Kind, report.Package, report.Status, report.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tPROVIDER\tSTATUS\tROWS\tRECORDS\tFAILED\tERROR")
	for _, o := range report.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			o.Action, o.Provider, o.Status, o.Stats.Rows, o.Stats.Records, o.Stats.Failed, o.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if report.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}
	return nil
}
