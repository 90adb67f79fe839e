package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"conversions/config"
	"conversions/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message headers set by the webhook relay.
const (
	HeaderSignature    = "x-shopify-hmac-sha256"
	HeaderForwardedFor = "x-forwarded-for"
	HeaderUserAgent    = "user-agent"
)

// ErrMalformed marks a message that can never succeed. It is rejected
// without requeue; every other outcome is acked after the single attempt.
var ErrMalformed = errors.New("rabbitmq: malformed message")

// Handler processes one relayed webhook.
type Handler func(ctx context.Context, msg models.WebhookMessage) error

type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.RabbitMQConfig
	logger  *slog.Logger
}

func NewConsumer(cfg config.RabbitMQConfig, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.Qos(cfg.PrefetchCount, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		config:  cfg,
		logger:  logger.With("component", "rabbitmq"),
	}, nil
}

func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// ConsumeQueue delivers messages to handler until ctx is cancelled or the
// broker closes the channel.
func (c *Consumer) ConsumeQueue(ctx context.Context, queueName string, handler Handler) error {
	_, err := c.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	msgs, err := c.channel.Consume(
		queueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("started consuming", "queue", queueName)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			c.processMessage(ctx, msg, handler)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery, handler Handler) {
	err := handler(ctx, toWebhookMessage(msg))

	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "message_id", msg.MessageId, "error", ackErr)
		}
	case errors.Is(err, ErrMalformed):
		c.logger.Warn("rejecting malformed message", "message_id", msg.MessageId, "error", err)
		if rejErr := msg.Reject(false); rejErr != nil {
			c.logger.Error("failed to reject message", "message_id", msg.MessageId, "error", rejErr)
		}
	default:
		// One attempt per order; a failed delivery is not retried from the queue.
		c.logger.Error("message handling failed", "message_id", msg.MessageId, "error", err)
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "message_id", msg.MessageId, "error", ackErr)
		}
	}
}

func toWebhookMessage(msg amqp.Delivery) models.WebhookMessage {
	received := msg.Timestamp
	if received.IsZero() {
		received = time.Now()
	}
	return models.WebhookMessage{
		MessageID:    msg.MessageId,
		Body:         msg.Body,
		Signature:    headerString(msg.Headers, HeaderSignature),
		ForwardedFor: headerString(msg.Headers, HeaderForwardedFor),
		UserAgent:    headerString(msg.Headers, HeaderUserAgent),
		ReceivedAt:   received,
	}
}

// headerString matches names case-insensitively and accepts string or bytes values.
func headerString(headers amqp.Table, name string) string {
	for k, v := range headers {
		if !strings.EqualFold(k, name) {
			continue
		}
		switch val := v.(type) {
		case string:
			return val
		case []byte:
			return string(val)
		}
	}
	return ""
}
