package models

import "time"

// WebhookMessage is an order webhook relayed through the broker. Body is the
// webhook body exactly as Shopify sent it.
type WebhookMessage struct {
	MessageID    string
	Body         []byte
	Signature    string
	ForwardedFor string
	UserAgent    string
	ReceivedAt   time.Time
}
