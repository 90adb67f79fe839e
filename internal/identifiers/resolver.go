// Package identifiers resolves the browser (fbp) and click (fbc) ids for an order.
package identifiers

import (
	"context"
	"errors"
	"strings"
	"time"

	"conversions/internal/correlation"
	"conversions/models"
)

// Note attribute names set by the storefront cookie script.
const (
	NoteFBP = "_fbp"
	NoteFBC = "_fbc"
)

// Sources of a resolved id.
const (
	SourceOrder  = "order"
	SourceLookup = "lookup"
)

// ErrNoLookupKey means the order has neither a cart token nor a client IP.
var ErrNoLookupKey = errors.New("identifiers: no lookup key")

// Resolved holds whatever ids could be found. Empty strings mean "not available".
type Resolved struct {
	FBP       string
	FBC       string
	FBPSource string
	FBCSource string

	// LookupKey is the key used against the correlation store, if any.
	LookupKey string
	// LookupErr records why enrichment was unavailable. It never stops the pipeline.
	LookupErr error
}

// Enriched reports whether the correlation store supplied at least one id.
func (r Resolved) Enriched() bool {
	return r.FBPSource == SourceLookup || r.FBCSource == SourceLookup
}

type Resolver struct {
	lookup  correlation.Lookup
	timeout time.Duration
}

// NewResolver builds a resolver. A nil lookup disables enrichment; a zero
// timeout leaves the lookup bounded only by ctx.
func NewResolver(lookup correlation.Lookup, timeout time.Duration) *Resolver {
	return &Resolver{lookup: lookup, timeout: timeout}
}

// LookupKey is the cart token, falling back to the client IP.
func LookupKey(order *models.OrderEvent) string {
	if k := strings.TrimSpace(order.CartToken); k != "" {
		return k
	}
	return strings.TrimSpace(order.BrowserIP)
}

// Resolve takes ids from the order's note attributes first and asks the
// correlation store only for what is still missing. Ids attached to the
// order always win over looked-up ones.
func (r *Resolver) Resolve(ctx context.Context, order *models.OrderEvent) Resolved {
	var res Resolved
	if v := strings.TrimSpace(order.NoteAttribute(NoteFBP)); v != "" {
		res.FBP, res.FBPSource = v, SourceOrder
	}
	if v := strings.TrimSpace(order.NoteAttribute(NoteFBC)); v != "" {
		res.FBC, res.FBCSource = v, SourceOrder
	}

	if (res.FBP != "" && res.FBC != "") || r.lookup == nil {
		return res
	}

	res.LookupKey = LookupKey(order)
	if res.LookupKey == "" {
		res.LookupErr = ErrNoLookupKey
		return res
	}

	lookupCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	rec, err := r.lookup.Get(lookupCtx, res.LookupKey)
	if err != nil {
		res.LookupErr = err
		return res
	}

	if res.FBP == "" && rec.FBP != "" {
		res.FBP, res.FBPSource = rec.FBP, SourceLookup
	}
	if res.FBC == "" && rec.FBC != "" {
		res.FBC, res.FBCSource = rec.FBC, SourceLookup
	}
	return res
}
