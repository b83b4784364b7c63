package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
)

// CompactOptions holds flags for the compact command.
type CompactOptions struct {
	*RootOptions
	Env    string
	To     uint64 // upper bound for the drop point; 0 means the safe drop point
	DryRun bool
}

// CompactResult reports what compact dropped.
type CompactResult struct {
	Worker        string           `json:"worker"`
	SafeDropPoint model.OplogIndex `json:"safe_drop_point"`
	DropPoint     model.OplogIndex `json:"drop_point"`
	Dropped       uint64           `json:"dropped"`
	Remaining     uint64           `json:"remaining"`
	DryRun        bool             `json:"dry_run,omitempty"`
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact <component:worker>",
		Short: "Drop the replayable prefix of an oplog",
		Long: `Drop committed entries a recovery no longer needs. The oplog is
verified first; the drop point never cuts an open atomic, remote-write or
transaction region, nor the pending invocation.

Exit codes:
  0 - Prefix dropped (or nothing to drop)
  1 - The oplog has violations and was left untouched
  2 - Command error

Examples:
  oplogctl compact shop:cart-42
  oplogctl compact shop:cart-42 --to 500
  oplogctl compact shop:cart-42 --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Env, "env", "", "environment id (defaults to the configured environment)")
	cmd.Flags().Uint64Var(&opts.To, "to", 0, "drop at most up to this index")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report the drop point without dropping")

	return cmd
}

func runCompact(ctx context.Context, opts *CompactOptions, arg string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, stack, err := opts.openStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	owned, err := parseWorker(arg, environment(opts.Env, cfg))
	if err != nil {
		return err
	}
	out := opts.formatter(cmd)

	report, err := verifyWorker(ctx, stack.Service, owned)
	if err != nil {
		return err
	}
	if !report.IsConsistent() {
		if out.IsJSON() {
			_ = out.Failure(CodeViolation, "refusing to compact an inconsistent oplog", report)
		} else {
			printVerifyText(cmd, VerifyResult{Workers: []WorkerReport{report}, Total: 1}, opts.Verbose)
		}
		return NewExitError(ExitFailure, "refusing to compact an inconsistent oplog")
	}

	result := CompactResult{
		Worker:        owned.String(),
		SafeDropPoint: report.SafeDropPoint,
		DropPoint:     report.SafeDropPoint,
		DryRun:        opts.DryRun,
	}
	if opts.To != 0 && model.OplogIndex(opts.To) < result.DropPoint {
		result.DropPoint = model.OplogIndex(opts.To)
	}

	if !opts.DryRun && !result.DropPoint.IsNone() {
		dropped, remaining, err := dropPrefix(ctx, stack.Service, owned, report.LastIndex, result.DropPoint)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to drop prefix", err)
		}
		result.Dropped = dropped
		result.Remaining = remaining
		slog.Info("oplog compacted", "worker", owned.String(), "drop_point", uint64(result.DropPoint), "dropped", dropped)
	}

	if out.IsJSON() {
		return out.Success(result)
	}
	w := cmd.OutOrStdout()
	switch {
	case result.DropPoint.IsNone():
		fmt.Fprintf(w, "%s: nothing to drop\n", result.Worker)
	case result.DryRun:
		fmt.Fprintf(w, "%s: would drop up to %d (safe %d)\n", result.Worker, uint64(result.DropPoint), uint64(result.SafeDropPoint))
	default:
		fmt.Fprintf(w, "%s: dropped %d entries up to %d, %d remaining\n", result.Worker, result.Dropped, uint64(result.DropPoint), result.Remaining)
	}
	return nil
}

// dropPrefix opens the oplog of owned and drops every entry up to and
// including last.
func dropPrefix(ctx context.Context, svc oplog.Service, owned model.OwnedWorkerID, lastIndex, last model.OplogIndex) (dropped, remaining uint64, err error) {
	o, err := svc.Open(ctx, owned, lastIndex, oplog.WorkerState{})
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		err = errors.Join(err, o.Close())
	}()

	dropped, err = o.DropPrefix(ctx, last)
	if err != nil {
		return 0, 0, err
	}
	remaining, err = o.Length(ctx)
	return dropped, remaining, err
}

