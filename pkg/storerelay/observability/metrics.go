package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordUnitSend records one unit send with its duration and whether the
	// tool exited non-zero.
	RecordUnitSend(ctx context.Context, duration time.Duration, warned bool)

	// RecordRun records a send run completion.
	RecordRun(ctx context.Context, status string, duration time.Duration)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, runID string, sizeBytes int64)

	// RecordValidationQuery records one inventory query and its outcome.
	RecordValidationQuery(ctx context.Context, status string, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	unitSends         metric.Int64Counter
	unitLatency       metric.Float64Histogram
	unitWarnings      metric.Int64Counter
	runs              metric.Int64Counter
	runLatency        metric.Float64Histogram
	checkpointSize    metric.Int64Histogram
	validationQueries metric.Int64Counter
	validationLatency metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("storerelay")

	unitSends, err := meter.Int64Counter("storerelay.unit.sends",
		metric.WithDescription("Number of unit send attempts"),
	)
	if err != nil {
		return nil, err
	}

	unitLatency, err := meter.Float64Histogram("storerelay.unit.latency_ms",
		metric.WithDescription("Unit send latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	unitWarnings, err := meter.Int64Counter("storerelay.unit.warnings",
		metric.WithDescription("Number of unit sends with non-zero tool exit"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("storerelay.run.count",
		metric.WithDescription("Number of send runs"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("storerelay.run.latency_ms",
		metric.WithDescription("Send run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSize, err := meter.Int64Histogram("storerelay.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	validationQueries, err := meter.Int64Counter("storerelay.validation.queries",
		metric.WithDescription("Number of inventory validation queries"),
	)
	if err != nil {
		return nil, err
	}

	validationLatency, err := meter.Float64Histogram("storerelay.validation.latency_ms",
		metric.WithDescription("Inventory query latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		unitSends:         unitSends,
		unitLatency:       unitLatency,
		unitWarnings:      unitWarnings,
		runs:              runs,
		runLatency:        runLatency,
		checkpointSize:    checkpointSize,
		validationQueries: validationQueries,
		validationLatency: validationLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordUnitSend records a unit send.
func (m *otelMetrics) RecordUnitSend(ctx context.Context, duration time.Duration, warned bool) {
	m.unitSends.Add(ctx, 1)
	m.unitLatency.Record(ctx, float64(duration.Milliseconds()))
	if warned {
		m.unitWarnings.Add(ctx, 1)
	}
}

// RecordRun records a send run.
func (m *otelMetrics) RecordRun(ctx context.Context, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("status", status),
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, runID string, sizeBytes int64) {
	attrs := []attribute.KeyValue{
		attribute.String("run_id", runID),
	}
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attrs...))
}

// RecordValidationQuery records one inventory query.
func (m *otelMetrics) RecordValidationQuery(ctx context.Context, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("status", status),
	}
	m.validationQueries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.validationLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}
