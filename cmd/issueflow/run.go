package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fyrsmithlabs/issueflow/internal/intake"
	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/orchestrator"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var progress bool

	cmd := &cobra.Command{
		Use:   "run [file|-]",
		Short: "Process issues from a file or stdin",
		Long: `Process one issue JSON object, or a JSON array of issues, and write the
results to stdout.

Examples:
  # Process a file
  issueflow run --rules ./rules issue.json

  # Process from stdin
  echo '{"status":"crashed","service":"api"}' | issueflow run -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var extra []orchestrator.Option
			if progress {
				stderr := cmd.ErrOrStderr()
				extra = append(extra, orchestrator.WithProgress(func(_ context.Context, v orchestrator.PhaseVisit) {
					fmt.Fprintf(stderr, "%-30s %-11s reward=%g executed=%v\n", v.Phase, v.Policy, v.Reward, v.Executed)
				}))
			}
			a, err := newApp(ctx, opts, extra...)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			return runIssues(ctx, a.engine, data, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&progress, "progress", false, "print each phase visit to stderr")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no issue to process")
	}
	return data, nil
}

// runIssues processes a single issue or an array of issues. Results keep the
// input shape. Failed passes are reported in their result and in the
// returned error once all issues ran.
func runIssues(ctx context.Context, engine intake.Processor, data []byte, out io.Writer) error {
	array := data[0] == '['
	var raws []json.RawMessage
	if array {
		if err := json.Unmarshal(data, &raws); err != nil {
			return fmt.Errorf("decode issues: %w", err)
		}
	} else {
		raws = []json.RawMessage{data}
	}

	results := make([]intake.Result, 0, len(raws))
	failed := 0
	for i, raw := range raws {
		var is issue.Issue
		if err := json.Unmarshal(raw, &is); err != nil {
			return fmt.Errorf("issue %d: %w", i, err)
		}
		res, err := engine.Process(ctx, &is)
		r := intake.Result{Issue: &is, Reward: is.Reward}
		if res != nil {
			r.PassID = res.ID.String()
			r.Reward = res.Reward
		}
		if err != nil {
			r.Error = err.Error()
			failed++
		}
		results = append(results, r)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	var err error
	if array {
		err = enc.Encode(results)
	} else {
		err = enc.Encode(results[0])
	}
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d issue passes failed", failed, len(raws))
	}
	return nil
}
