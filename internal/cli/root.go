package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/oplog/internal/config"
	"github.com/roach88/oplog/internal/model"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is the path of the YAML configuration file. Empty uses
	// defaults and OPLOG_ environment overrides only.
	Config string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of oplogctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "oplogctl",
		Short: "Inspect and maintain worker oplogs",
		Long: `oplogctl reads, verifies and compacts the operation logs of durable
workers, and serves the debugging endpoint over WebSocket.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to config file")

	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewDebugCommand(opts))

	return cmd
}

// configureLogging sends structured logs to stderr, at debug level when
// verbose.
func configureLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads the configuration named by --config.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openStack loads the configuration and opens the services it describes.
func (o *RootOptions) openStack() (*config.Config, *config.Stack, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	stack, err := config.Open(cfg)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open oplog storage", err)
	}
	return cfg, stack, nil
}

// parseWorker parses a "component:name" argument into an owned worker id
// of env.
func parseWorker(arg string, env string) (model.OwnedWorkerID, error) {
	id, err := model.ParseWorkerID(arg)
	if err != nil {
		return model.OwnedWorkerID{}, WrapExitError(ExitCommandError, "invalid worker id", err)
	}
	return model.NewOwnedWorkerID(model.EnvironmentID(env), id), nil
}

// environment returns the --env flag value, or the configured environment
// when it is empty.
func environment(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Environment
}
