package commands

import (
	"context"

	"github.com/spf13/cobra"
)

// Persistent flags shared by every command.
var (
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute builds the command tree and runs it with ctx.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dxp",
		Short: "Run declarative data import and export packages",
		Long: `dxp executes data exchange packages. A package is an XML or YAML
document naming the actions to run, the provider behind each action and the
CSV data they read, inline or from a file or SFTP server.

Actions run in dependency order. Before a run the package is checked against
the configured OPA policies; every run is recorded in the SQLite store.`,
		Version:       version + " (commit " + commit + ", built " + buildDate + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default $DXP_CONFIG, then ./dxp.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flags.BoolVar(&jsonOutput, "json", false, "print results as JSON")

	cmd.AddCommand(
		newImportCommand(),
		newExportCommand(),
		newValidateCommand(),
		newPlanCommand(),
		newRunsCommand(),
		newWatchCommand(),
	)
	return cmd
}
