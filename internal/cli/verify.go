package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
	"github.com/roach88/oplog/internal/replay"
)

// readPageSize is the page size used when a command reads a whole oplog.
const readPageSize = 256

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Env       string
	Component string // verify every worker of this component
}

// WorkerReport is the verification outcome of one worker.
type WorkerReport struct {
	replay.State
	SafeDropPoint model.OplogIndex `json:"safe_drop_point"`
}

// VerifyResult holds the overall verification result.
type VerifyResult struct {
	Workers       []WorkerReport `json:"workers"`
	Total         int            `json:"total"`
	AllConsistent bool           `json:"all_consistent"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [component:worker...]",
		Short: "Replay oplogs and check their durability invariants",
		Long: `Replay the committed oplog of each worker and report entries that could
not be honored on recovery: side effects recorded inside an open remote write,
region ends without a begin, and gaps in the index sequence.

Exit codes:
  0 - Every oplog is consistent
  1 - Violations found
  2 - Command error (bad config, storage unavailable, etc.)

Examples:
  oplogctl verify shop:cart-42
  oplogctl verify --component shop
  oplogctl verify shop:cart-42 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.Component == "" {
				return NewExitError(ExitCommandError, "name at least one worker or use --component")
			}
			return runVerify(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Env, "env", "", "environment id (defaults to the configured environment)")
	cmd.Flags().StringVar(&opts.Component, "component", "", "verify every worker of this component")

	return cmd
}

func runVerify(ctx context.Context, opts *VerifyOptions, args []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, stack, err := opts.openStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	env := environment(opts.Env, cfg)
	var workers []model.OwnedWorkerID
	for _, arg := range args {
		owned, err := parseWorker(arg, env)
		if err != nil {
			return err
		}
		workers = append(workers, owned)
	}
	if opts.Component != "" {
		scanned, err := oplog.ScanAll(ctx, stack.Service, model.EnvironmentID(env), model.ComponentID(opts.Component), readPageSize)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to scan component", err)
		}
		workers = append(workers, scanned...)
	}

	result := VerifyResult{Workers: make([]WorkerReport, 0, len(workers)), AllConsistent: true}
	for _, owned := range workers {
		report, err := verifyWorker(ctx, stack.Service, owned)
		if err != nil {
			return err
		}
		result.Workers = append(result.Workers, report)
		if !report.IsConsistent() {
			result.AllConsistent = false
		}
	}
	result.Total = len(result.Workers)

	out := opts.formatter(cmd)
	if !result.AllConsistent {
		if out.IsJSON() {
			_ = out.Failure(CodeViolation, "oplog verification failed", result)
		} else {
			printVerifyText(cmd, result, opts.Verbose)
		}
		return NewExitError(ExitFailure, "oplog verification failed")
	}
	if out.IsJSON() {
		return out.Success(result)
	}
	printVerifyText(cmd, result, opts.Verbose)
	return nil
}

func verifyWorker(ctx context.Context, svc oplog.Service, owned model.OwnedWorkerID) (WorkerReport, error) {
	exists, err := svc.Exists(ctx, owned)
	if err != nil {
		return WorkerReport{}, WrapExitError(ExitCommandError, "failed to look up worker", err)
	}
	if !exists {
		return WorkerReport{}, NewExitError(ExitCommandError, fmt.Sprintf("worker %s has no oplog", owned))
	}

	state, err := replay.Verify(ctx, svc, owned, readPageSize)
	var violations *replay.ViolationError
	if err != nil && !errors.As(err, &violations) {
		return WorkerReport{}, WrapExitError(ExitCommandError, "failed to read oplog", err)
	}
	return WorkerReport{State: state, SafeDropPoint: replay.SafeDropPoint(state)}, nil
}

func printVerifyText(cmd *cobra.Command, result VerifyResult, verbose bool) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Verify Summary: %d worker(s)\n", result.Total)
	fmt.Fprintln(w)

	for _, r := range result.Workers {
		status := "✓"
		if !r.IsConsistent() {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Worker: %s\n", status, r.Worker)
		fmt.Fprintf(w, "  Entries: %d (%d..%d)\n", r.Entries, uint64(r.FirstIndex), uint64(r.LastIndex))

		if verbose {
			fmt.Fprintf(w, "  Invocations: %d\n", r.Invocations)
			fmt.Fprintf(w, "  Completions: %d\n", r.Completions)
			fmt.Fprintf(w, "  Persistence: %s\n", r.PersistenceLevel)
			fmt.Fprintf(w, "  Open regions: %d\n", len(r.OpenRegions))
			fmt.Fprintf(w, "  Safe drop point: %d\n", uint64(r.SafeDropPoint))
		}

		for _, v := range r.Violations {
			fmt.Fprintf(w, "  %s at %d: %s\n", v.Code, uint64(v.Index), v.Message)
		}
		fmt.Fprintln(w)
	}

	if result.AllConsistent {
		fmt.Fprintln(w, "✓ All oplogs consistent")
		return
	}
	fmt.Fprintln(w, "✗ Oplog verification failed")
}
