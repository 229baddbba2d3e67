// Package main implements the issueflow CLI: one-shot issue passes and the
// long-running HTTP/NATS service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time.
var version = "dev"

type rootOptions struct {
	configPath string
	rulesDir   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "issueflow",
		Short: "Route issues through ordered plugin phases",
		Long: `issueflow runs issues through an ordered list of phases. Each phase holds
plugins that test whether they apply to an issue and act on it. Phase names
ending in -parallel run every applicable plugin per round; names ending in
-alternative let an arbiter pick one.

Configuration is read from ~/.config/issueflow/config.yaml and ISSUEFLOW_*
environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/issueflow/config.yaml)")
	root.PersistentFlags().StringVar(&opts.rulesDir, "rules", "", "rule directory (overrides rules.dir)")

	root.AddCommand(
		newRunCmd(opts),
		newPhasesCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the issueflow version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "issueflow %s\n", version)
			return err
		},
	}
}
