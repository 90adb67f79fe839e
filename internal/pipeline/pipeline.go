// Package pipeline turns one order webhook into at most one conversion event.
//
// Stages run strictly in order: signature check, classification, identifier
// resolution, PII normalization, event assembly and delivery. Apart from an
// undecodable body or cancellation, only a rejected signature (enforcing mode)
// or the delivery itself fails an invocation. Enrichment problems are logged
// and absorbed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"conversions/internal/assembler"
	"conversions/internal/classifier"
	"conversions/internal/correlation"
	"conversions/internal/identifiers"
	"conversions/internal/meta"
	"conversions/internal/pii"
	"conversions/internal/signature"
	"conversions/internal/telemetry"
	"conversions/models"
)

// Outcome statuses.
const (
	StatusSent     = "sent"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
	StatusRejected = "rejected"
	StatusDryRun   = "dry_run"
)

const recordTimeout = 5 * time.Second

var (
	// ErrSignatureRejected is returned in enforcing mode when the webhook signature does not verify.
	ErrSignatureRejected = errors.New("pipeline: webhook signature rejected")
	// ErrInvalidPayload wraps order bodies that are not valid JSON or carry no order reference.
	ErrInvalidPayload = errors.New("pipeline: invalid order payload")
)

// Dispatcher delivers one assembled event.
type Dispatcher interface {
	Send(ctx context.Context, event models.ConversionEvent) (*meta.Response, error)
}

// Recorder keeps an outcome log. Failures are logged and otherwise ignored.
type Recorder interface {
	RecordDelivery(ctx context.Context, rec models.DeliveryRecord) error
}

// Input is one received webhook. Body must be the bytes exactly as received.
type Input struct {
	Body       []byte
	Signature  string
	Hints      assembler.ClientHints
	ReceivedAt time.Time
}

type Outcome struct {
	Status         string
	OrderID        string
	Classification classifier.Result
	Identifiers    identifiers.Resolved
	Event          *models.ConversionEvent
	Response       *meta.Response
}

// Deps are the stages and collaborators of a Pipeline. Dispatcher nil means
// dry run: the event is assembled but not delivered. Recorder and Metrics are optional.
type Deps struct {
	Verifier   *signature.Verifier
	Classifier *classifier.Classifier
	Resolver   *identifiers.Resolver
	Normalizer *pii.Normalizer
	Assembler  *assembler.Assembler
	Dispatcher Dispatcher
	Recorder   Recorder
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

type Pipeline struct {
	verifier   *signature.Verifier
	classifier *classifier.Classifier
	resolver   *identifiers.Resolver
	normalizer *pii.Normalizer
	assembler  *assembler.Assembler
	dispatcher Dispatcher
	recorder   Recorder
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func New(d Deps) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		verifier:   d.Verifier,
		classifier: d.Classifier,
		resolver:   d.Resolver,
		normalizer: d.Normalizer,
		assembler:  d.Assembler,
		dispatcher: d.Dispatcher,
		recorder:   d.Recorder,
		metrics:    d.Metrics,
		logger:     logger.With("component", "pipeline"),
		tracer:     otel.Tracer("conversions/pipeline"),
		now:        time.Now,
	}
}

// Process runs the pipeline for one webhook. A skipped order is a successful
// outcome, not an error. On delivery failure the outcome is returned together
// with a *meta.DeliveryError.
func (p *Pipeline) Process(ctx context.Context, in Input) (*Outcome, error) {
	start := p.now()
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = start
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.Process")
	defer span.End()

	out, err := p.process(ctx, in)

	status := StatusFailed
	if out != nil {
		status = out.Status
		span.SetAttributes(attribute.String("order.id", out.OrderID))
	}
	if errors.Is(err, ErrSignatureRejected) {
		status = StatusRejected
	}
	span.SetAttributes(attribute.String("pipeline.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	p.metrics.Outcome(ctx, status, p.now().Sub(start))

	return out, err
}

func (p *Pipeline) process(ctx context.Context, in Input) (*Outcome, error) {
	if err := p.verifier.Verify(in.Body, in.Signature); err != nil {
		blocked := p.verifier.Enforcing()
		p.metrics.SignatureFailure(ctx, signatureReason(err), blocked)
		if blocked {
			p.logger.WarnContext(ctx, "webhook signature rejected", "error", err)
			p.record(ctx, models.DeliveryRecord{Status: StatusRejected, Error: err.Error()})
			return nil, fmt.Errorf("%w: %w", ErrSignatureRejected, err)
		}
		p.logger.WarnContext(ctx, "webhook signature not verified, continuing (report-only)", "error", err)
	}

	var order models.OrderEvent
	if err := json.Unmarshal(in.Body, &order); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if order.Reference() == "" {
		return nil, fmt.Errorf("%w: neither id nor order_number present", ErrInvalidPayload)
	}

	out := &Outcome{OrderID: order.Reference()}
	log := p.logger.With("order_id", out.OrderID)
	log.InfoContext(ctx, "order received", "tags", order.Tags, "source_name", order.SourceName)

	out.Classification = p.classifier.Classify(&order)
	if out.Classification.Excluded {
		reasons := reasonStrings(out.Classification.Reasons)
		log.InfoContext(ctx, "order excluded from conversion reporting", "reasons", reasons)
		out.Status = StatusSkipped
		p.record(ctx, models.DeliveryRecord{OrderID: out.OrderID, Status: StatusSkipped, Reasons: reasons})
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out.Identifiers = p.resolver.Resolve(ctx, &order)
	p.logEnrichment(ctx, log, out.Identifiers)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	event := p.assembler.Assemble(assembler.Input{
		Order:      &order,
		IDs:        out.Identifiers,
		PII:        p.normalizer.Normalize(&order),
		Hints:      in.Hints,
		ReceivedAt: in.ReceivedAt,
	})
	out.Event = &event
	log = log.With("event_id", event.EventID)

	if p.dispatcher == nil {
		log.InfoContext(ctx, "dry run, event not delivered")
		out.Status = StatusDryRun
		return out, nil
	}

	resp, err := p.dispatcher.Send(ctx, event)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.ErrorContext(ctx, "conversion event delivery failed", "error", err)
		out.Status = StatusFailed
		p.record(ctx, models.DeliveryRecord{
			OrderID: out.OrderID, EventID: event.EventID, EventName: event.EventName,
			Status: StatusFailed, Error: err.Error(),
		})
		return out, err
	}

	log.InfoContext(ctx, "conversion event sent",
		"event_name", event.EventName,
		"events_received", resp.EventsReceived,
		"fbtrace_id", resp.FBTraceID,
	)
	out.Status = StatusSent
	out.Response = resp
	p.record(ctx, models.DeliveryRecord{
		OrderID: out.OrderID, EventID: event.EventID, EventName: event.EventName,
		Status: StatusSent, EventsReceived: resp.EventsReceived, FBTraceID: resp.FBTraceID,
	})
	return out, nil
}

func (p *Pipeline) logEnrichment(ctx context.Context, log *slog.Logger, ids identifiers.Resolved) {
	switch {
	case ids.Enriched():
		p.metrics.Enrichment(ctx, "hit")
		log.InfoContext(ctx, "identifiers enriched from correlation store",
			"fbp_source", ids.FBPSource, "fbc_source", ids.FBCSource)
	case errors.Is(ids.LookupErr, correlation.ErrNotFound):
		p.metrics.Enrichment(ctx, "miss")
		log.DebugContext(ctx, "no correlation record", "lookup_key", ids.LookupKey)
	case errors.Is(ids.LookupErr, identifiers.ErrNoLookupKey):
		log.DebugContext(ctx, "no lookup key for enrichment")
	case ids.LookupErr != nil:
		p.metrics.Enrichment(ctx, "error")
		log.WarnContext(ctx, "enrichment unavailable", "error", ids.LookupErr)
	case ids.LookupKey != "":
		p.metrics.Enrichment(ctx, "miss")
	}
}

// record writes to the outcome log without letting the caller's cancellation
// or a sink failure affect the result.
func (p *Pipeline) record(ctx context.Context, rec models.DeliveryRecord) {
	if p.recorder == nil {
		return
	}
	rec.ProcessedAt = p.now()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.recorder.RecordDelivery(rctx, rec); err != nil {
		p.logger.WarnContext(ctx, "failed to record delivery outcome", "status", rec.Status, "error", err)
	}
}

func signatureReason(err error) string {
	if errors.Is(err, signature.ErrMissingSecret) {
		return "missing_secret"
	}
	return "mismatch"
}

func reasonStrings(reasons []classifier.Reason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, r.String())
	}
	return out
}
