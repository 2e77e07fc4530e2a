package observability

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the pipeline tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("storerelay")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span for an entire send run.
	StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span)

	// StartBatchSpan starts a span for one batch, child of the run span.
	StartBatchSpan(ctx context.Context, batch int) (context.Context, trace.Span)

	// StartUnitSpan starts a span for one unit send, child of the batch span.
	StartUnitSpan(ctx context.Context, unitPath string) (context.Context, trace.Span)

	// StartValidationSpan starts a span for a validation pass.
	StartValidationSpan(ctx context.Context, runID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartRunSpan starts a span for an entire send run.
func (m *otelSpanManager) StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "storerelay.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartBatchSpan starts a span for one batch.
func (m *otelSpanManager) StartBatchSpan(ctx context.Context, batch int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "storerelay.batch."+strconv.Itoa(batch),
		trace.WithAttributes(
			attribute.Int("batch.number", batch),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartUnitSpan starts a span for one unit send.
func (m *otelSpanManager) StartUnitSpan(ctx context.Context, unitPath string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "storerelay.unit",
		trace.WithAttributes(
			attribute.String("unit.path", unitPath),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartValidationSpan starts a span for a validation pass.
func (m *otelSpanManager) StartValidationSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "storerelay.validation",
		trace.WithAttributes(
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
