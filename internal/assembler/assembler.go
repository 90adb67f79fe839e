// Package assembler builds the conversion event for a qualifying order.
package assembler

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"conversions/config"
	"conversions/internal/identifiers"
	"conversions/internal/pii"
	"conversions/models"
)

const (
	fallbackIP        = "0.0.0.0"
	fallbackUserAgent = "unknown"
	fallbackReference = "order"
)

// ClientHints are request-level fallbacks for the client IP and user agent.
type ClientHints struct {
	ForwardedFor string
	RemoteAddr   string
	UserAgent    string
}

// Input is everything the assembler needs from the earlier stages.
type Input struct {
	Order      *models.OrderEvent
	IDs        identifiers.Resolved
	PII        pii.Normalized
	Hints      ClientHints
	ReceivedAt time.Time
}

type Assembler struct {
	eventName      string
	actionSource   string
	eventSourceURL string
	currency       string
	consent        bool
}

func New(meta config.MetaConfig, pipeline config.PipelineConfig) *Assembler {
	return &Assembler{
		eventName:      meta.EventName,
		actionSource:   meta.ActionSource,
		eventSourceURL: meta.EventSourceURL,
		currency:       pipeline.DefaultCurrency,
		consent:        pipeline.HasAdsConsent,
	}
}

// Assemble is deterministic: the same input always yields the same event.
func (a *Assembler) Assemble(in Input) models.ConversionEvent {
	order := in.Order
	eventTime := EventTime(order.CreatedAt, in.ReceivedAt)

	currency := strings.TrimSpace(order.Currency)
	if currency == "" {
		currency = a.currency
	}

	return models.ConversionEvent{
		EventName:      a.eventName,
		EventTime:      eventTime,
		EventID:        EventID(order.Reference(), eventTime),
		ActionSource:   a.actionSource,
		EventSourceURL: a.eventSourceURL,
		UserData:       a.userData(in),
		CustomData: models.CustomData{
			Currency: currency,
			Value:    ParseValue(order.TotalPrice.String()),
			OrderID:  order.Reference(),
		},
	}
}

func (a *Assembler) userData(in Input) models.UserData {
	ud := models.UserData{
		ClientIPAddress: ClientIP(in.Order, in.Hints),
		ClientUserAgent: UserAgent(in.Order, in.Hints),
		FBP:             in.IDs.FBP,
		FBC:             in.IDs.FBC,
	}
	if !a.consent {
		return ud
	}

	hashed := in.PII.Hashed()
	one := func(f pii.Field) []string {
		if h, ok := hashed[f]; ok {
			return []string{h}
		}
		return nil
	}
	ud.Email = one(pii.Email)
	ud.Phone = one(pii.Phone)
	ud.FirstName = one(pii.FirstName)
	ud.LastName = one(pii.LastName)
	ud.City = one(pii.City)
	ud.State = one(pii.State)
	ud.Zip = one(pii.Zip)
	ud.Country = one(pii.Country)

	if id := externalID(in.Order); id != "" {
		ud.ExternalID = []string{pii.Hash(id)}
	}
	return ud
}

// EventID is the dedup key "<order ref>:<event time>".
func EventID(reference string, eventTime int64) string {
	if reference == "" {
		reference = fallbackReference
	}
	return reference + ":" + strconv.FormatInt(eventTime, 10)
}

// EventTime is the order creation time in whole unix seconds, or the receipt
// time when created_at is missing or unparseable.
func EventTime(createdAt string, receivedAt time.Time) int64 {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(createdAt)); err == nil {
		return floorUnix(t)
	}
	return floorUnix(receivedAt)
}

func floorUnix(t time.Time) int64 {
	// Unix() truncates toward the epoch; floor only differs before 1970.
	sec := t.Unix()
	if t.Nanosecond() > 0 && sec < 0 {
		sec--
	}
	return sec
}

// ParseValue reads a monetary amount, returning 0 when it cannot be parsed.
func ParseValue(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// ClientIP prefers the storefront IP on the order, then the first
// X-Forwarded-For hop, then the peer address.
func ClientIP(order *models.OrderEvent, hints ClientHints) string {
	if ip := strings.TrimSpace(order.BrowserIP); ip != "" {
		return ip
	}
	if ip := FirstForwardedFor(hints.ForwardedFor); ip != "" {
		return ip
	}
	if addr := strings.TrimSpace(hints.RemoteAddr); addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}
	return fallbackIP
}

// FirstForwardedFor returns the client hop of an X-Forwarded-For value.
func FirstForwardedFor(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}

func UserAgent(order *models.OrderEvent, hints ClientHints) string {
	if ua := strings.TrimSpace(order.BrowserUserAgent); ua != "" {
		return ua
	}
	if ua := strings.TrimSpace(hints.UserAgent); ua != "" {
		return ua
	}
	return fallbackUserAgent
}

func externalID(order *models.OrderEvent) string {
	if order.Customer != nil {
		if id := strings.TrimSpace(order.Customer.ID.String()); id != "" {
			return id
		}
	}
	return strings.TrimSpace(order.ID.String())
}
