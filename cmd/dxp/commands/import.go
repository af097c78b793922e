package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dataxchange/dxp/pkg/engine"
)

func newImportCommand() *cobra.Command {
	var (
		dataPath string
		values   map[string]string
	)

	cmd := &cobra.Command{
		Use:   "import <package>",
		Short: "Run an import package",
		Long: `Load an import package, check it against the policies and run its actions.

Actions run in declaration order with their dependencies first. The run and
the outcome of every action are recorded in the store.`,
		Example: `  # Run a package
  dxp import sites.xml

  # Replace the payload of the first data element
  dxp import sites.xml --data today.csv

  # Hand key/value pairs to every provider
  dxp import sites.yaml --context tenant=acme --context env=prod`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			report, err := runImport(a.context(cmd.Context()), a, args[0], dataPath, values)
			if report != nil {
				if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "data file replacing the first data element")
	cmd.Flags().StringToStringVar(&values, "context", nil, "context values handed to providers (key=value)")

	return cmd
}

// runImport loads, checks and runs the package at path.
func runImport(ctx context.Context, a *app, path, dataPath string, values map[string]string) (*engine.RunReport, error) {
	pkg, err := a.loadPackage(path, dataPath)
	if err != nil {
		return nil, err
	}

	if _, err := a.checkPolicies(ctx, pkg, "import", values); err != nil {
		return nil, err
	}

	log.Info().
		Str("package", pkg.Name).
		Int("actions", len(pkg.Actions())).
		Int("data_sources", len(pkg.DataSources())).
		Msg("Running import")

	return a.executor(values).Import(ctx, pkg)
}
