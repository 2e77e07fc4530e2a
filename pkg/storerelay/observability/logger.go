// Package observability provides structured logging, metrics, and tracing
// for the send and validation pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns a logger carrying the run id on every record.
func EnrichLogger(logger *slog.Logger, runID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("run_id", runID))
}

// LogRunStart logs the start of a send run.
func LogRunStart(logger *slog.Logger, runID string, unitsTotal, pending, batchSize int) {
	if logger == nil {
		return
	}
	logger.Info("send run starting",
		slog.String("run_id", runID),
		slog.Int("units_total", unitsTotal),
		slog.Int("units_pending", pending),
		slog.Int("batch_size", batchSize),
	)
}

// LogRunComplete logs send run completion.
func LogRunComplete(logger *slog.Logger, runID, status string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("send run completed",
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogRunInterrupted logs a cooperative cancellation of the send run.
func LogRunInterrupted(logger *slog.Logger, runID string) {
	if logger == nil {
		return
	}
	logger.Warn("send run interrupted",
		slog.String("run_id", runID),
	)
}

// LogBatchStart logs the start of a batch.
func LogBatchStart(logger *slog.Logger, batch, totalBatches, units int) {
	if logger == nil {
		return
	}
	logger.Info("batch starting",
		slog.Int("batch", batch),
		slog.Int("batches_total", totalBatches),
		slog.Int("units", units),
	)
}

// LogUnitSent logs a completed unit send.
func LogUnitSent(logger *slog.Logger, unitPath, status string, exitCode, newSuccess, newError int) {
	if logger == nil {
		return
	}
	logger.Info("unit sent",
		slog.String("unit", unitPath),
		slog.String("status", status),
		slog.Int("exit_code", exitCode),
		slog.Int("new_success", newSuccess),
		slog.Int("new_error", newError),
	)
}

// LogUnitWarning logs a non-zero tool exit code. The run continues; the
// authoritative signal is the per-identifier outcome, not the exit code.
func LogUnitWarning(logger *slog.Logger, unitPath string, exitCode int) {
	if logger == nil {
		return
	}
	logger.Warn("transfer tool exited non-zero",
		slog.String("unit", unitPath),
		slog.Int("exit_code", exitCode),
	)
}

// LogUnitSkipped logs an empty unit skipped without a tool invocation.
func LogUnitSkipped(logger *slog.Logger, unitPath string) {
	if logger == nil {
		return
	}
	logger.Info("unit skipped, no direct files",
		slog.String("unit", unitPath),
	)
}

// LogCheckpointDiscarded logs a checkpoint rejected at load time.
func LogCheckpointDiscarded(logger *slog.Logger, runID, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint discarded, run restarts clean",
		slog.String("run_id", runID),
		slog.String("reason", reason),
	)
}

// LogValidationStart logs the start of a validation pass.
func LogValidationStart(logger *slog.Logger, runID string, identifiers int) {
	if logger == nil {
		return
	}
	logger.Info("validation starting",
		slog.String("run_id", runID),
		slog.Int("identifiers", identifiers),
	)
}

// LogValidationComplete logs the end of a validation pass.
func LogValidationComplete(logger *slog.Logger, runID, finalStatus string, ok, notFound, apiError int) {
	if logger == nil {
		return
	}
	logger.Info("validation completed",
		slog.String("run_id", runID),
		slog.String("final_status", finalStatus),
		slog.Int("ok", ok),
		slog.Int("not_found", notFound),
		slog.Int("api_error", apiError),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
