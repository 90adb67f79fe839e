// Package correlation reads and writes last-seen browser/click ids keyed by
// session id or client IP. The store is owned by an external backend; the
// conversion pipeline only reads from it and treats every failure as "no data".
package correlation

import (
	"context"
	"errors"

	"conversions/models"
)

var ErrNotFound = errors.New("correlation: not found")

// Lookup returns the record stored under key, or ErrNotFound.
type Lookup interface {
	Get(ctx context.Context, key string) (models.CorrelationRecord, error)
}

// Store is a Lookup that also accepts writes.
type Store interface {
	Lookup
	Put(ctx context.Context, key string, rec models.CorrelationRecord) error
}
