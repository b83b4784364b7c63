package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Env      string
	PageSize uint64
}

// ScanResult lists the workers of a component that have an oplog.
type ScanResult struct {
	Component string   `json:"component"`
	Workers   []string `json:"workers"`
	Total     int      `json:"total"`
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan <component>",
		Short: "List workers of a component that have an oplog",
		Long: `List every worker of a component that has an oplog in any layer. Each
worker is listed once even when several layers hold part of its oplog.

Examples:
  oplogctl scan shop
  oplogctl scan shop --page 50 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Env, "env", "", "environment id (defaults to the configured environment)")
	cmd.Flags().Uint64Var(&opts.PageSize, "page", readPageSize, "scan page size")

	return cmd
}

func runScan(ctx context.Context, opts *ScanOptions, component string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.PageSize == 0 {
		return NewExitError(ExitCommandError, "--page must be positive")
	}
	cfg, stack, err := opts.openStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	env := model.EnvironmentID(environment(opts.Env, cfg))
	workers, err := oplog.ScanAll(ctx, stack.Service, env, model.ComponentID(component), opts.PageSize)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to scan component", err)
	}

	result := ScanResult{Component: component, Workers: make([]string, 0, len(workers))}
	seen := make(map[string]bool, len(workers))
	for _, w := range workers {
		if seen[w.String()] {
			continue
		}
		seen[w.String()] = true
		result.Workers = append(result.Workers, w.String())
	}
	result.Total = len(result.Workers)

	out := opts.formatter(cmd)
	if out.IsJSON() {
		return out.Success(result)
	}
	w := cmd.OutOrStdout()
	for _, name := range result.Workers {
		fmt.Fprintln(w, name)
	}
	out.VerboseLog("%d worker(s)", result.Total)
	return nil
}
