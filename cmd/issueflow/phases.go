package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPhasesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "List phases in execution order",
		Long: `List the phases built from the rule directory, in execution order, with
their execution policy and plugin kinds.

Examples:
  issueflow phases --rules ./rules`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHASE\tPOLICY\tPLUGINS")
			for _, p := range a.engine.Phases() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Policy, strings.Join(p.Plugins, ", "))
			}
			return w.Flush()
		},
	}
}
