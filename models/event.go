package models

import "time"

// ConversionEvent is one entry of the `data` array sent to the Conversions API.
// It deliberately carries no product titles, categories or URLs.
type ConversionEvent struct {
	EventName      string     `json:"event_name"`
	EventTime      int64      `json:"event_time"`
	EventID        string     `json:"event_id"`
	ActionSource   string     `json:"action_source"`
	EventSourceURL string     `json:"event_source_url,omitempty"`
	UserData       UserData   `json:"user_data"`
	CustomData     CustomData `json:"custom_data"`
}

// UserData holds the match keys. Hashed fields are single-element lists and
// are absent, not empty, when the value is missing or consent is withheld.
type UserData struct {
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
	FBC             string   `json:"fbc,omitempty"`
	Email           []string `json:"em,omitempty"`
	Phone           []string `json:"ph,omitempty"`
	FirstName       []string `json:"fn,omitempty"`
	LastName        []string `json:"ln,omitempty"`
	City            []string `json:"ct,omitempty"`
	State           []string `json:"st,omitempty"`
	Zip             []string `json:"zp,omitempty"`
	Country         []string `json:"country,omitempty"`
	ExternalID      []string `json:"external_id,omitempty"`
}

type CustomData struct {
	Currency string  `json:"currency"`
	Value    float64 `json:"value"`
	OrderID  string  `json:"order_id"`
}

// EventBatch is the request body of the Conversions API events endpoint.
type EventBatch struct {
	Data          []ConversionEvent `json:"data"`
	TestEventCode string            `json:"test_event_code,omitempty"`
}

// CorrelationRecord is the last-seen browser and click ids for a session or IP.
// It is owned by the correlation store, never by the pipeline.
type CorrelationRecord struct {
	FBP       string    `json:"fbp,omitempty"`
	FBC       string    `json:"fbc,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryRecord is one row of the delivery outcome log.
type DeliveryRecord struct {
	OrderID        string
	EventID        string
	EventName      string
	Status         string
	Reasons        []string
	EventsReceived int
	FBTraceID      string
	Error          string
	ProcessedAt    time.Time
}
