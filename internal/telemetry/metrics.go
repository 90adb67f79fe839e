package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts pipeline outcomes.
type Metrics struct {
	outcomes   metric.Int64Counter
	signatures metric.Int64Counter
	enrichment metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetrics registers the pipeline instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	outcomes, err := meter.Int64Counter("conversions.pipeline.outcomes",
		metric.WithDescription("Pipeline invocations by final status"))
	if err != nil {
		return nil, err
	}
	signatures, err := meter.Int64Counter("conversions.signature.failures",
		metric.WithDescription("Webhook signature checks that did not pass"))
	if err != nil {
		return nil, err
	}
	enrichment, err := meter.Int64Counter("conversions.enrichment.lookups",
		metric.WithDescription("Correlation lookups by result"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("conversions.pipeline.duration",
		metric.WithDescription("Pipeline duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{outcomes: outcomes, signatures: signatures, enrichment: enrichment, duration: duration}, nil
}

// Outcome records one finished invocation. Safe on a nil receiver.
func (m *Metrics) Outcome(ctx context.Context, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.outcomes.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// SignatureFailure records a failed check; blocked is true in enforcing mode.
func (m *Metrics) SignatureFailure(ctx context.Context, reason string, blocked bool) {
	if m == nil {
		return
	}
	m.signatures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.Bool("blocked", blocked),
	))
}

// Enrichment records a correlation lookup result (hit, miss, error).
func (m *Metrics) Enrichment(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.enrichment.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
