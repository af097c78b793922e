package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dataxchange/dxp/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		listPolicies bool
		showPolicy   string
		enable       []string
	)

	cmd := &cobra.Command{
		Use:   "validate [package]",
		Short: "Validate an import package",
		Long: `Validate an import package without running it.

This command checks:
  - Document syntax (XML or YAML)
  - Action dependencies and cycles
  - The CUE package schema
  - Policy compliance (OPA/rego)

--list-policies and --show-policy describe the loaded policies instead and
need no package.`,
		Example: `  # Validate a package
  dxp validate sites.xml

  # Validate with the policies of a config file
  dxp validate -c prod.yaml sites.xml

  # Check a policy switched off in the config file
  dxp validate --enable-policy non-breaking-shared-dependency sites.xml

  # List the loaded policies
  dxp validate --list-policies`,
		Args: func(cmd *cobra.Command, args []string) error {
			if listPolicies || showPolicy != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			out := cmd.OutOrStdout()
			if listPolicies || showPolicy != "" || len(enable) > 0 {
				if a.policies == nil {
					return fmt.Errorf("policies are disabled in the config")
				}
			}
			for _, name := range enable {
				if err := a.policies.EnablePolicy(name); err != nil {
					return err
				}
			}

			switch {
			case listPolicies:
				return printPolicies(out, a.policies.ListPolicies())
			case showPolicy != "":
				p, err := a.policies.GetPolicy(showPolicy)
				if err != nil {
					return err
				}
				return printPolicy(out, p)
			}

			pkg, err := a.loadPackage(args[0], "")
			if err != nil {
				return err
			}

			if err := a.schemas.ValidatePackage(ctx, pkg.Summary()); err != nil {
				return err
			}

			result, err := a.checkPolicies(a.context(ctx), pkg, "validate", nil)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Package %s is valid: %d actions, %d data sources\n",
				pkg.Name, len(pkg.Actions()), len(pkg.DataSources()))
			if result != nil {
				fmt.Fprintf(out, "Policies evaluated: %d, warnings: %d\n",
					len(result.EvaluatedPolicies), len(result.Warnings))
				for _, w := range result.Warnings {
					fmt.Fprintf(out, "  %s\n", w)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&listPolicies, "list-policies", false, "list the loaded policies")
	cmd.Flags().StringVar(&showPolicy, "show-policy", "", "print one policy with its rego source")
	cmd.Flags().StringSliceVar(&enable, "enable-policy", nil, "enable policies switched off by policy.disabled")

	return cmd
}

func printPolicies(out io.Writer, policies []policy.Policy) error {
	if jsonOutput {
		return writeJSON(out, policies)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tOPERATIONS\tSOURCE")
	for _, p := range policies {
		source := p.Source
		if p.Builtin {
			source = "builtin"
		}
		ops := strings.Join(p.Operations, ",")
		if ops == "" {
			ops = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, ops, source)
	}
	return tw.Flush()
}

func printPolicy(out io.Writer, p *policy.Policy) error {
	if jsonOutput {
		return writeJSON(out, p)
	}

	fmt.Fprintf(out, "%s (%s, enabled: %t)\n", p.Name, p.Severity, p.Enabled)
	if p.Description != "" {
		fmt.Fprintln(out, p.Description)
	}
	fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(p.Rego))
	return nil
}
