package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/oplog/internal/model"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	Env   string
	From  uint64
	Count uint64
}

// EntryView is one committed entry as printed by read.
type EntryView struct {
	Index model.OplogIndex `json:"index"`
	Kind  model.Kind       `json:"kind"`
	Entry json.RawMessage  `json:"entry"`
}

// ReadResult holds the entries returned by read.
type ReadResult struct {
	Worker    string           `json:"worker"`
	LastIndex model.OplogIndex `json:"last_index"`
	Entries   []EntryView      `json:"entries"`
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read <component:worker>",
		Short: "Print committed oplog entries",
		Long: `Print committed entries of a worker's oplog in index order, reading
through every archive layer.

Examples:
  oplogctl read shop:cart-42
  oplogctl read shop:cart-42 --from 100 --count 20
  oplogctl read shop:cart-42 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Env, "env", "", "environment id (defaults to the configured environment)")
	cmd.Flags().Uint64Var(&opts.From, "from", uint64(model.InitialIndex), "first index to read")
	cmd.Flags().Uint64Var(&opts.Count, "count", 100, "maximum number of entries")

	return cmd
}

func runRead(ctx context.Context, opts *ReadOptions, arg string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.From == 0 || opts.Count == 0 {
		return NewExitError(ExitCommandError, "--from and --count must be positive")
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
	last, err := stack.Service.GetLastIndex(ctx, owned)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read last index", err)
	}
	records, err := stack.Service.Read(ctx, owned, model.OplogIndex(opts.From), opts.Count)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read oplog", err)
	}

	result := ReadResult{Worker: owned.String(), LastIndex: last, Entries: make([]EntryView, 0, len(records))}
	for _, r := range records {
		data, err := model.EncodeEntry(r.Entry)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to encode entry %d", r.Index), err)
		}
		result.Entries = append(result.Entries, EntryView{Index: r.Index, Kind: r.Entry.Kind(), Entry: data})
	}

	out := opts.formatter(cmd)
	if out.IsJSON() {
		return out.Success(result)
	}

	w := cmd.OutOrStdout()
	for _, e := range result.Entries {
		if opts.Verbose {
			fmt.Fprintf(w, "%d %s %s\n", uint64(e.Index), e.Kind, e.Entry)
			continue
		}
		fmt.Fprintf(w, "%d %s\n", uint64(e.Index), e.Kind)
	}
	out.VerboseLog("%d entries, last index %d", len(result.Entries), uint64(last))
	return nil
}
