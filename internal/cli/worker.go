package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"conversions/internal/rabbitmq"
	"conversions/internal/workers"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process order webhooks relayed through RabbitMQ",
		Long: `Consumes raw order webhook bodies from a RabbitMQ queue and runs each one
through the pipeline once. The webhook signature is read from the
x-shopify-hmac-sha256 message header.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := rootOpts.Config, rootOpts.Logger
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if queue == "" {
				queue = cfg.RabbitMQ.OrderQueue
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQ, logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			err = workers.NewOrderWorker(consumer, a.pipeline, queue, logger).Start(ctx)
			logger.Info("worker stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "queue to consume (default RABBITMQ_ORDER_QUEUE)")
	return cmd
}
