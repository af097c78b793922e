package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/engine"
)

func newExportCommand() *cobra.Command {
	var (
		outFile string
		values  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "export <package>",
		Short: "Run an export package",
		Long: `Run the provider of an export package. The csv provider reads the records
stored by earlier imports and writes them as CSV.`,
		Example: `  # Export to stdout
  dxp export sites-export.xml

  # Export to a file
  dxp export sites-export.xml --out sites.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			root, err := document.Load(args[0])
			if err != nil {
				return engine.NewLoadError(fmt.Sprintf("failed to read package %s", args[0]), err)
			}
			pkg, err := engine.LoadExportPackage(root)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			if err := a.executor(values).Export(a.context(cmd.Context()), pkg, w); err != nil {
				return err
			}

			if outFile != "" {
				log.Info().Str("package", pkg.Name).Str("out", outFile).Msg("Export written")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringToStringVar(&values, "context", nil, "context values handed to the provider (key=value)")

	return cmd
}
