package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
)

// ArchiveOptions holds flags for the archive command.
type ArchiveOptions struct {
	*RootOptions
	Env string
	All bool // repeat until nothing more can move
}

// ArchiveResult reports an archive run.
type ArchiveResult struct {
	Worker string `json:"worker"`
	Passes int    `json:"passes"`
	More   bool   `json:"more"`
	Length uint64 `json:"length"`
}

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive <component:worker>",
		Short: "Move an oplog one layer down",
		Long: `Move committed entries of a worker from the primary layer into the first
archive layer, or from an archive layer into the next one when the primary
is empty. Requires multilayer.enabled in the configuration.

Examples:
  oplogctl archive shop:cart-42
  oplogctl archive shop:cart-42 --all`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Env, "env", "", "environment id (defaults to the configured environment)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "keep archiving until the deepest layer holds everything")

	return cmd
}

func runArchive(ctx context.Context, opts *ArchiveOptions, arg string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, stack, err := opts.openStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	if !cfg.MultiLayer.Enabled {
		return NewExitError(ExitCommandError, "archive requires multilayer.enabled")
	}
	owned, err := parseWorker(arg, environment(opts.Env, cfg))
	if err != nil {
		return err
	}

	result, err := archiveWorker(ctx, stack.Service, owned, opts.All)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to archive oplog", err)
	}

	out := opts.formatter(cmd)
	if out.IsJSON() {
		return out.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pass(es), %d entries stored, more=%t\n",
		result.Worker, result.Passes, result.Length, result.More)
	return nil
}

func archiveWorker(ctx context.Context, svc oplog.Service, owned model.OwnedWorkerID, all bool) (result ArchiveResult, err error) {
	result.Worker = owned.String()

	last, err := svc.GetLastIndex(ctx, owned)
	if err != nil {
		return result, err
	}
	o, err := svc.Open(ctx, owned, last, oplog.WorkerState{})
	if err != nil {
		return result, err
	}
	defer func() {
		err = errors.Join(err, o.Close())
	}()

	ml, ok := oplog.Underlying(o).(*oplog.MultiLayerOplog)
	if !ok {
		return result, fmt.Errorf("oplog of %s is not multi-layer", owned)
	}
	for {
		more, err := ml.Archive(ctx, true)
		if err != nil {
			return result, err
		}
		result.Passes++
		result.More = more
		if !more || !all {
			break
		}
	}
	result.Length, err = o.Length(ctx)
	return result, err
}
