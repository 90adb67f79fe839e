package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"conversions/config"
	"conversions/models"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type Client struct {
	conn     driver.Conn
	database string
}

func NewClient(cfg config.ClickHouseConfig) (*Client, error) {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		DialTimeout:  time.Second * 10,
	}

	// Native protocol on 9000 is plaintext; 9440 and 8443 are the TLS ports.
	if cfg.Port == 9440 || cfg.Port == 8443 {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Client{
		conn:     conn,
		database: cfg.Database,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// EnsureSchema creates the delivery outcome table if it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.Fact_Conversion_Delivery (
			order_id        String,
			event_id        String,
			event_name      LowCardinality(String),
			status          LowCardinality(String),
			reasons         Array(String),
			events_received UInt32,
			fbtrace_id      String,
			error           String,
			processed_at    DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (processed_at, order_id)
	`, c.database)

	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create delivery table: %w", err)
	}
	return nil
}

// RecordDelivery inserts one delivery outcome row.
func (c *Client) RecordDelivery(ctx context.Context, rec models.DeliveryRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.Fact_Conversion_Delivery (
			order_id, event_id, event_name, status, reasons,
			events_received, fbtrace_id, error, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.database)

	if err := c.conn.Exec(ctx, query, deliveryArgs(rec)...); err != nil {
		return fmt.Errorf("failed to insert delivery record: %w", err)
	}
	return nil
}

func deliveryArgs(rec models.DeliveryRecord) []any {
	reasons := rec.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	received := rec.EventsReceived
	if received < 0 {
		received = 0
	}
	return []any{
		rec.OrderID,
		rec.EventID,
		rec.EventName,
		rec.Status,
		reasons,
		uint32(received),
		rec.FBTraceID,
		rec.Error,
		rec.ProcessedAt.UTC(),
	}
}
