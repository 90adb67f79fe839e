// Package meta delivers conversion events to the Meta Conversions API.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"conversions/config"
	"conversions/models"
)

const maxErrorBody = 64 << 10

// Response is the success body of the events endpoint. Only used for logging.
type Response struct {
	EventsReceived int             `json:"events_received"`
	Messages       []string        `json:"messages,omitempty"`
	FBTraceID      string          `json:"fbtrace_id"`
	Raw            json.RawMessage `json:"-"`
}

// DeliveryError is a failed delivery: either the API answered non-2xx
// (StatusCode and Body set) or the request never completed (Err set).
type DeliveryError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("meta: delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("meta: delivery rejected status=%d body=%s", e.StatusCode, string(e.Body))
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Detail is what the caller should see: the remote error body (as JSON when
// it is JSON) or the transport error message.
func (e *DeliveryError) Detail() any {
	if e.Err != nil {
		return e.Err.Error()
	}
	if json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	return string(e.Body)
}

type Client struct {
	GraphURL      string
	APIVersion    string
	PixelID       string
	AccessToken   string
	TestEventCode string
	HTTPClient    *http.Client
	Logger        *slog.Logger

	tracer trace.Tracer
}

func NewClient(cfg config.MetaConfig) *Client {
	return &Client{
		GraphURL:      strings.TrimRight(cfg.GraphURL, "/"),
		APIVersion:    cfg.APIVersion,
		PixelID:       cfg.PixelID,
		AccessToken:   cfg.AccessToken,
		TestEventCode: cfg.TestEventCode,
		HTTPClient:    &http.Client{Timeout: cfg.Timeout},
		Logger:        slog.Default().With("component", "meta"),
		tracer:        otel.Tracer("conversions/meta"),
	}
}

func (c *Client) endpoint() string {
	q := url.Values{}
	q.Set("access_token", c.AccessToken)
	return fmt.Sprintf("%s/%s/%s/events?%s", c.GraphURL, c.APIVersion, url.PathEscape(c.PixelID), q.Encode())
}

// Send makes exactly one delivery attempt for event as a one-element batch.
// Every failure is returned as *DeliveryError.
func (c *Client) Send(ctx context.Context, event models.ConversionEvent) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "meta.Send", trace.WithAttributes(
		attribute.String("event.id", event.EventID),
		attribute.String("event.name", event.EventName),
	))
	defer span.End()

	resp, err := c.send(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.received", resp.EventsReceived))
	return resp, nil
}

func (c *Client) send(ctx context.Context, event models.ConversionEvent) (*Response, error) {
	raw, err := json.Marshal(models.EventBatch{
		Data:          []models.ConversionEvent{event},
		TestEventCode: c.TestEventCode,
	})
	if err != nil {
		return nil, &DeliveryError{Err: fmt.Errorf("failed to encode event: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(raw))
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &DeliveryError{Err: redact(err, c.AccessToken)}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
	if err != nil {
		return nil, &DeliveryError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &DeliveryError{StatusCode: httpResp.StatusCode, Body: body}
	}

	out := &Response{}
	if json.Valid(body) {
		out.Raw = body
		if err := json.Unmarshal(body, out); err != nil && c.Logger != nil {
			c.Logger.DebugContext(ctx, "unexpected delivery response shape",
				"status", httpResp.StatusCode, "error", err)
		}
	}
	return out, nil
}

// redact strips the access token from errors that quote the request URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), url.QueryEscape(token)) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), url.QueryEscape(token), "REDACTED"))
}
