// Package cli holds the cobra commands of the conversions service.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"conversions/config"
	"conversions/pkg/logger"
)

// RootOptions holds global flags and the state PersistentPreRunE prepares.
type RootOptions struct {
	LogLevel  string
	LogFormat string

	Config *config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "conversions",
		Short: "Shopify order webhooks to Meta Conversions API events",
		Long: `Receives Shopify order webhooks, drops recurring subscription orders,
and reports each qualifying purchase to the Meta Conversions API with hashed
customer identifiers.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if opts.LogLevel != "" {
				cfg.Log.Level = opts.LogLevel
			}
			if opts.LogFormat != "" {
				cfg.Log.Format = opts.LogFormat
			}
			opts.Config = cfg
			opts.Logger = logger.InitWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error); overrides LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (json|text); overrides LOG_FORMAT")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}
