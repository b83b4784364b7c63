package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/oplog/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	return cmd
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the configuration after defaults and OPLOG_ overrides",
		Example: `  oplogctl config show -c oplog.yaml
  OPLOG_STORAGE_BACKEND=sqlite oplogctl config show --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := opts.formatter(cmd)
			if out.IsJSON() {
				return out.Success(cfg)
			}
			data, err := cfg.YAML()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to render config", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration against its schema",
		Long: `Check the configuration against its schema.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid
  2 - Configuration could not be read`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			_, err := config.Load(opts.Config)

			var verr *config.ValidationError
			switch {
			case err == nil:
				if out.IsJSON() {
					return out.Success(map[string]bool{"valid": true})
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
				return nil
			case errors.As(err, &verr):
				_ = out.Error(CodeConfig, verr.Error(), map[string]string{"field": verr.Field})
				return NewExitError(ExitFailure, "configuration invalid")
			default:
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
		},
	}
}
