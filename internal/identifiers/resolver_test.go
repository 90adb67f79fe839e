package identifiers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"conversions/internal/correlation"
	"conversions/models"
)

type fakeLookup struct {
	GetFunc func(ctx context.Context, key string) (models.CorrelationRecord, error)
	calls   []string
}

func (f *fakeLookup) Get(ctx context.Context, key string) (models.CorrelationRecord, error) {
	f.calls = append(f.calls, key)
	if f.GetFunc != nil {
		return f.GetFunc(ctx, key)
	}
	return models.CorrelationRecord{}, correlation.ErrNotFound
}

func orderWithNotes(notes ...models.Attribute) *models.OrderEvent {
	return &models.OrderEvent{
		ID:             "1001",
		CartToken:      "cart-abc",
		BrowserIP:      "203.0.113.7",
		NoteAttributes: notes,
	}
}

func TestResolve_OrderIDsSkipLookup(t *testing.T) {
	lookup := &fakeLookup{}
	r := NewResolver(lookup, time.Second)

	res := r.Resolve(context.Background(), orderWithNotes(
		models.Attribute{Name: "_fbp", Value: "fb.1.1.order"},
		models.Attribute{Name: "_fbc", Value: "fb.1.1.click"},
	))

	assert.Equal(t, "fb.1.1.order", res.FBP)
	assert.Equal(t, "fb.1.1.click", res.FBC)
	assert.Equal(t, SourceOrder, res.FBPSource)
	assert.Empty(t, lookup.calls)
	assert.False(t, res.Enriched())
}

func TestResolve_BackfillsOnlyMissing(t *testing.T) {
	lookup := &fakeLookup{GetFunc: func(ctx context.Context, key string) (models.CorrelationRecord, error) {
		return models.CorrelationRecord{FBP: "fb.1.1.lookup", FBC: "fb.1.1.lookupclick"}, nil
	}}
	r := NewResolver(lookup, time.Second)

	res := r.Resolve(context.Background(), orderWithNotes(
		models.Attribute{Name: "_fbp", Value: "fb.1.1.order"},
	))

	assert.Equal(t, []string{"cart-abc"}, lookup.calls)
	assert.Equal(t, "fb.1.1.order", res.FBP, "order value wins")
	assert.Equal(t, SourceOrder, res.FBPSource)
	assert.Equal(t, "fb.1.1.lookupclick", res.FBC)
	assert.Equal(t, SourceLookup, res.FBCSource)
	assert.True(t, res.Enriched())
	assert.NoError(t, res.LookupErr)
}

func TestResolve_FallsBackToIPKey(t *testing.T) {
	lookup := &fakeLookup{}
	r := NewResolver(lookup, time.Second)

	order := orderWithNotes()
	order.CartToken = " "
	res := r.Resolve(context.Background(), order)

	assert.Equal(t, []string{"203.0.113.7"}, lookup.calls)
	assert.Equal(t, "203.0.113.7", res.LookupKey)
	assert.ErrorIs(t, res.LookupErr, correlation.ErrNotFound)
}

func TestResolve_DegradedOutcomes(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		lookup := &fakeLookup{}
		order := &models.OrderEvent{ID: "1"}
		res := NewResolver(lookup, time.Second).Resolve(context.Background(), order)

		assert.ErrorIs(t, res.LookupErr, ErrNoLookupKey)
		assert.Empty(t, lookup.calls)
		assert.Empty(t, res.FBP)
		assert.Empty(t, res.FBC)
	})

	t.Run("transport failure", func(t *testing.T) {
		lookup := &fakeLookup{GetFunc: func(ctx context.Context, key string) (models.CorrelationRecord, error) {
			return models.CorrelationRecord{}, errors.New("dial tcp: refused")
		}}
		res := NewResolver(lookup, time.Second).Resolve(context.Background(), orderWithNotes(
			models.Attribute{Name: "_fbc", Value: "fb.1.1.click"},
		))

		assert.Error(t, res.LookupErr)
		assert.Empty(t, res.FBP)
		assert.Equal(t, "fb.1.1.click", res.FBC)
	})

	t.Run("lookup disabled", func(t *testing.T) {
		res := NewResolver(nil, 0).Resolve(context.Background(), orderWithNotes())
		assert.NoError(t, res.LookupErr)
		assert.Empty(t, res.LookupKey)
	})
}

func TestResolve_LookupIsBounded(t *testing.T) {
	lookup := &fakeLookup{GetFunc: func(ctx context.Context, key string) (models.CorrelationRecord, error) {
		<-ctx.Done()
		return models.CorrelationRecord{}, ctx.Err()
	}}

	start := time.Now()
	res := NewResolver(lookup, 20*time.Millisecond).Resolve(context.Background(), orderWithNotes())

	assert.ErrorIs(t, res.LookupErr, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
