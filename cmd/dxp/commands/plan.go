package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "plan <package>",
		Short: "Show the execution levels of a package",
		Long: `Show the dependency levels of an import package. Actions on a level only
depend on actions of lower levels.`,
		Example: `  # Print the levels
  dxp plan sites.xml

  # Render the dependency graph
  dxp plan sites.xml --dot | dot -Tsvg > sites.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			pkg, err := a.loadPackage(args[0], "")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dot {
				_, err := fmt.Fprint(out, pkg.Graph().ToDOT(pkg.Actions()))
				return err
			}

			levels := pkg.Graph().Levels()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(levels)
			}

			for i, level := range levels {
				fmt.Fprintf(out, "Level %d: %s\n", i, strings.Join(level, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the graph in DOT format")

	return cmd
}
