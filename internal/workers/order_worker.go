package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"conversions/internal/assembler"
	"conversions/internal/pipeline"
	"conversions/internal/rabbitmq"
	"conversions/models"
)

const messageTimeout = 30 * time.Second

// QueueConsumer is the part of rabbitmq.Consumer the worker needs.
type QueueConsumer interface {
	ConsumeQueue(ctx context.Context, queueName string, handler rabbitmq.Handler) error
}

type Processor interface {
	Process(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error)
}

// OrderWorker runs relayed order webhooks through the pipeline.
type OrderWorker struct {
	consumer  QueueConsumer
	processor Processor
	queueName string
	logger    *slog.Logger
}

func NewOrderWorker(consumer QueueConsumer, processor Processor, queueName string, logger *slog.Logger) *OrderWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderWorker{
		consumer:  consumer,
		processor: processor,
		queueName: queueName,
		logger:    logger.With("component", "order_worker", "queue", queueName),
	}
}

func (w *OrderWorker) Start(ctx context.Context) error {
	w.logger.Info("starting order worker")
	return w.consumer.ConsumeQueue(ctx, w.queueName, w.handleMessage)
}

func (w *OrderWorker) handleMessage(ctx context.Context, msg models.WebhookMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	log := w.logger.With("message_id", msg.MessageID)

	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	out, err := w.processor.Process(ctx, pipeline.Input{
		Body:       msg.Body,
		Signature:  msg.Signature,
		Hints:      assembler.ClientHints{ForwardedFor: msg.ForwardedFor, UserAgent: msg.UserAgent},
		ReceivedAt: msg.ReceivedAt,
	})
	if errors.Is(err, pipeline.ErrSignatureRejected) || errors.Is(err, pipeline.ErrInvalidPayload) {
		return fmt.Errorf("%w: %w", rabbitmq.ErrMalformed, err)
	}
	if err != nil {
		return fmt.Errorf("failed to process order webhook: %w", err)
	}

	log.Info("order webhook processed", "order_id", out.OrderID, "status", out.Status)
	return nil
}
