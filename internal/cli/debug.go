package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/oplog/internal/debug"
	"github.com/roach88/oplog/internal/model"
)

// DebugOptions holds flags for the debug command.
type DebugOptions struct {
	*RootOptions
	Addr string // overrides debug.addr
}

// NewDebugCommand creates the debug command group.
func NewDebugCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DebugOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Debugging service for worker oplogs",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the debugging endpoint over WebSocket",
		Long: `Serve the debugging endpoint. Clients connect to /v1/debugger and issue
connect, playback, rewind, fork and current-index calls as JSON-RPC over
WebSocket. Each connection owns at most one debug session, which ends when
the connection closes.

Examples:
  oplogctl debug serve -c oplog.yaml
  oplogctl debug serve --addr 127.0.0.1:9100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebugServe(cmd.Context(), opts, cmd)
		},
	}
	serve.Flags().StringVar(&opts.Addr, "addr", "", "listen address (defaults to debug.addr)")
	cmd.AddCommand(serve)

	return cmd
}

func runDebugServe(ctx context.Context, opts *DebugOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, stack, err := opts.openStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	addr := opts.Addr
	if addr == "" {
		addr = cfg.Debug.Addr
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutting down debug server", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	debugger := debug.NewDebugger(stack.Service, debug.NewSessions())
	server := debug.NewServer(debugger, model.EnvironmentID(cfg.Environment))
	defer server.Close()

	opts.formatter(cmd).VerboseLog("debug server on %s%s", addr, debug.Path)
	if err := server.ListenAndServe(ctx, addr); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("debug server on %s failed", addr), err)
	}
	return nil
}
