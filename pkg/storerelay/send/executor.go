package send

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dicomops/storerelay/pkg/storerelay/checkpoint"
	"github.com/dicomops/storerelay/pkg/storerelay/discover"
	"github.com/dicomops/storerelay/pkg/storerelay/event"
	"github.com/dicomops/storerelay/pkg/storerelay/ledger"
	"github.com/dicomops/storerelay/pkg/storerelay/observability"
	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
)

// Executor drives the batched, checkpointed send of all pending units.
//
// The unit list is recomputed from the filesystem on every execution; the
// checkpoint alone decides what is still pending. A checkpoint is saved after
// every completed unit, so a crash loses at most the unit in flight.
type Executor struct {
	runsBase string
	tool     Tool
	store    checkpoint.Store
	rules    ledger.Rules

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the structured logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithSpanManager sets the trace span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(e *Executor) { e.spans = s }
}

// WithRules overrides the identifier extraction rules.
func WithRules(r ledger.Rules) Option {
	return func(e *Executor) { e.rules = r }
}

// NewExecutor creates an executor writing run artifacts under runsBase.
func NewExecutor(runsBase string, tool Tool, store checkpoint.Store, opts ...Option) *Executor {
	e := &Executor{
		runsBase: runsBase,
		tool:     tool,
		store:    store,
		rules:    ledger.DefaultRules(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request describes one send execution.
// ResumeRunID selects an existing run to resume; empty starts a fresh run.
// Destination is informational, recorded in the run summary.
type Request struct {
	RootPath    string
	Destination string
	BatchSize   int
	ResumeRunID string
}

// Run executes the send phase and returns its summary.
//
// Fatal conditions (bad batch size, missing tool, missing root, held run
// lock) return an error before any unit is touched. Cooperative cancellation
// via ctx is not an error: the summary comes back with an interrupted status
// and the checkpoint covers everything already completed.
func (e *Executor) Run(ctx context.Context, req Request) (Summary, error) {
	if req.BatchSize < 1 {
		return Summary{}, fmt.Errorf("batch size must be >= 1, got %d", req.BatchSize)
	}
	if err := e.tool.Check(); err != nil {
		return Summary{}, err
	}

	root, err := filepath.Abs(req.RootPath)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve root path: %w", err)
	}
	units, err := discover.Units(root, e.logger)
	if err != nil {
		return Summary{}, err
	}

	runID := req.ResumeRunID
	if runID == "" {
		runID = rundir.NewRunID()
	}
	layout, err := rundir.New(e.runsBase, runID)
	if err != nil {
		return Summary{}, err
	}
	lock, err := rundir.AcquireLock(layout.Dir())
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = lock.Release() }()

	logger := observability.EnrichLogger(e.logger, runID)

	cp, resumed := e.loadCheckpoint(logger, runID, root, req.BatchSize)
	if !resumed {
		// A clean start must not inherit artifacts from a previous attempt.
		if err := layout.Remove(
			rundir.TransferLogFile, rundir.SuccessFile, rundir.ErrorFile,
			rundir.UnitResultsFile, rundir.EventsFile, rundir.SummaryFile,
		); err != nil {
			return Summary{}, err
		}
	}

	// Persist the starting checkpoint so even a run that completes nothing
	// leaves its root and batch size on record.
	if err := e.store.Save(cp); err != nil {
		return Summary{}, fmt.Errorf("save checkpoint: %w", err)
	}

	led := ledger.New(e.rules, layout.Path(rundir.SuccessFile), layout.Path(rundir.ErrorFile))
	if resumed {
		if err := led.Hydrate(); err != nil {
			return Summary{}, err
		}
	}

	if err := discover.WriteManifest(layout.Path(rundir.ManifestFile), runID, units); err != nil {
		return Summary{}, err
	}

	recorder := event.NewRecorder(layout.Path(rundir.EventsFile), runID)

	completed := cp.CompletedSet()
	var pending []discover.Unit
	for _, u := range units {
		if _, done := completed[u.Path]; !done {
			pending = append(pending, u)
		}
	}

	observability.LogRunStart(e.logger, runID, len(units), len(pending), req.BatchSize)
	if err := recorder.Info(event.TypeRunStart,
		fmt.Sprintf("units_total=%d pending=%d", len(units), len(pending)),
		root,
	); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		RunID:       runID,
		RunDir:      layout.Dir(),
		RootPath:    root,
		Destination: req.Destination,
		BatchSize:   req.BatchSize,
		UnitsTotal:  len(units),
	}
	elapsed := observability.TimedOperation()

	if len(pending) == 0 {
		summary.NothingPending = true
		return e.finish(ctx, logger, recorder, layout, led, cp, summary, StatusPass, elapsed)
	}

	ctx, runSpan := e.spans.StartRunSpan(ctx, runID)
	var runErr error
	defer func() { e.spans.EndSpanWithError(runSpan, runErr) }()

	batches := chunk(pending, req.BatchSize)
	warned := false
	interrupted := false

	for i, batch := range batches {
		batchNo := i + 1
		batchCtx, batchSpan := e.spans.StartBatchSpan(ctx, batchNo)

		observability.LogBatchStart(logger, batchNo, len(batches), len(batch))
		if err := recorder.Record(event.Event{
			Level: event.LevelInfo, Type: event.TypeBatchStart, Batch: batchNo,
			Message: fmt.Sprintf("units=%d", len(batch)),
		}); err != nil {
			e.spans.EndSpanWithError(batchSpan, err)
			runErr = err
			return summary, err
		}

		for _, unit := range batch {
			if batchCtx.Err() != nil {
				interrupted = true
				break
			}
			if err := e.sendUnit(batchCtx, logger, recorder, layout, led, cp, &summary, batchNo, unit, &warned, &interrupted); err != nil {
				e.spans.EndSpanWithError(batchSpan, err)
				runErr = err
				return summary, err
			}
			if interrupted {
				break
			}
		}

		e.spans.EndSpanWithError(batchSpan, nil)
		if interrupted {
			break
		}
		if err := recorder.Record(event.Event{
			Level: event.LevelInfo, Type: event.TypeBatchEnd, Batch: batchNo,
		}); err != nil {
			runErr = err
			return summary, err
		}
	}

	status := StatusPass
	switch {
	case interrupted:
		status = StatusInterrupted
	case warned || led.ErrorCount() > 0:
		status = StatusPassWithWarnings
	}
	return e.finish(ctx, logger, recorder, layout, led, cp, summary, status, elapsed)
}

// sendUnit processes one pending unit through to its checkpoint entry,
// tallying it into the summary. Empty units are skipped without a tool
// invocation but still complete.
func (e *Executor) sendUnit(
	ctx context.Context,
	logger *slog.Logger,
	recorder *event.Recorder,
	layout rundir.Layout,
	led *ledger.Ledger,
	cp *checkpoint.Checkpoint,
	summary *Summary,
	batchNo int,
	unit discover.Unit,
	warned *bool,
	interrupted *bool,
) error {
	runID := summary.RunID
	if !discover.HasDirectFiles(unit.Path) {
		observability.LogUnitSkipped(logger, unit.Path)
		if err := recorder.Record(event.Event{
			Level: event.LevelInfo, Type: event.TypeUnitSkipped,
			Batch: batchNo, Unit: unit.Path,
		}); err != nil {
			return err
		}
		if err := writeUnitResult(layout.Path(rundir.UnitResultsFile), UnitResult{
			RunID: runID, UnitPath: unit.Path, Batch: batchNo, Status: UnitSkippedEmpty,
		}); err != nil {
			return err
		}
		summary.UnitsSkippedEmpty++
		return e.checkpointUnit(ctx, cp, unit.Path)
	}

	unitCtx, unitSpan := e.spans.StartUnitSpan(ctx, unit.Path)
	if err := recorder.Record(event.Event{
		Level: event.LevelInfo, Type: event.TypeUnitSendStart,
		Batch: batchNo, Unit: unit.Path,
	}); err != nil {
		e.spans.EndSpanWithError(unitSpan, err)
		return err
	}

	sendStart := time.Now()
	result, err := e.tool.Send(unitCtx, unit.Path)
	if err != nil {
		// Mid-unit cancellation leaves the unit out of the checkpoint so a
		// resume re-runs it from scratch.
		if unitCtx.Err() != nil {
			*interrupted = true
			e.spans.EndSpanWithError(unitSpan, nil)
			return nil
		}
		e.spans.EndSpanWithError(unitSpan, err)
		return err
	}

	if err := appendTransferLog(layout.Path(rundir.TransferLogFile), unit.Path, result.Output); err != nil {
		e.spans.EndSpanWithError(unitSpan, err)
		return err
	}

	newSuccess, newError, err := led.Record(result.Output)
	if err != nil {
		e.spans.EndSpanWithError(unitSpan, err)
		return err
	}

	status := UnitDone
	if result.ExitCode != 0 {
		status = UnitDoneWithWarnings
		*warned = true
		observability.LogUnitWarning(logger, unit.Path, result.ExitCode)
	}
	observability.LogUnitSent(logger, unit.Path, status, result.ExitCode, newSuccess, newError)
	e.metrics.RecordUnitSend(unitCtx, time.Since(sendStart), status == UnitDoneWithWarnings)

	level := event.LevelInfo
	if status == UnitDoneWithWarnings {
		level = event.LevelWarn
	}
	if err := recorder.Record(event.Event{
		Level: level, Type: event.TypeUnitSendEnd,
		Batch: batchNo, Unit: unit.Path,
		Message: status,
		Extra:   fmt.Sprintf("exit_code=%d new_success=%d new_error=%d", result.ExitCode, newSuccess, newError),
	}); err != nil {
		e.spans.EndSpanWithError(unitSpan, err)
		return err
	}
	if err := writeUnitResult(layout.Path(rundir.UnitResultsFile), UnitResult{
		RunID: runID, UnitPath: unit.Path, Batch: batchNo, Status: status,
		ExitCode: result.ExitCode, NewSuccess: newSuccess, NewError: newError,
	}); err != nil {
		e.spans.EndSpanWithError(unitSpan, err)
		return err
	}
	summary.UnitsSent++

	err = e.checkpointUnit(unitCtx, cp, unit.Path)
	e.spans.EndSpanWithError(unitSpan, err)
	return err
}

// checkpointUnit marks a unit completed and persists the checkpoint before
// the next unit starts.
func (e *Executor) checkpointUnit(ctx context.Context, cp *checkpoint.Checkpoint, unitPath string) error {
	cp.MarkCompleted(unitPath)
	if err := e.store.Save(cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if data, err := cp.Marshal(); err == nil {
		e.metrics.RecordCheckpoint(ctx, cp.RunID, int64(len(data)))
	}
	return nil
}

// loadCheckpoint resolves the starting checkpoint for the run.
// A missing, corrupt, or mismatched checkpoint yields a fresh one.
func (e *Executor) loadCheckpoint(logger *slog.Logger, runID, root string, batchSize int) (*checkpoint.Checkpoint, bool) {
	cp, err := e.store.Load(runID)
	switch {
	case err == nil:
		if !cp.MatchesRoot(root) {
			observability.LogCheckpointDiscarded(logger, runID,
				fmt.Sprintf("root path changed from %s to %s", cp.RootPath, root))
			_ = e.store.Delete(runID)
			return checkpoint.New(runID, root, batchSize), false
		}
		cp.BatchSize = batchSize
		return cp, true
	case errors.Is(err, checkpoint.ErrCorrupt):
		observability.LogCheckpointDiscarded(logger, runID, err.Error())
		_ = e.store.Delete(runID)
		return checkpoint.New(runID, root, batchSize), false
	default:
		return checkpoint.New(runID, root, batchSize), false
	}
}

// finish writes the end-of-run events and the summary row.
func (e *Executor) finish(
	ctx context.Context,
	logger *slog.Logger,
	recorder *event.Recorder,
	layout rundir.Layout,
	led *ledger.Ledger,
	cp *checkpoint.Checkpoint,
	summary Summary,
	status string,
	elapsed func() float64,
) (Summary, error) {
	summary.SendStatus = status
	summary.SuccessCount = led.SuccessCount()
	summary.ErrorCount = led.ErrorCount()
	summary.UnitsCompleted = len(cp.CompletedUnits)

	if status == StatusInterrupted {
		observability.LogRunInterrupted(logger, summary.RunID)
		if err := recorder.Warn(event.TypeRunInterrupted,
			"cancelled, completed units are checkpointed", ""); err != nil {
			return summary, err
		}
	}
	if err := recorder.Record(event.Event{
		Level: event.LevelInfo, Type: event.TypeRunEnd,
		Message: status,
		Extra: "success=" + strconv.Itoa(summary.SuccessCount) +
			" error=" + strconv.Itoa(summary.ErrorCount),
	}); err != nil {
		return summary, err
	}
	if err := summary.write(layout.Path(rundir.SummaryFile)); err != nil {
		return summary, err
	}

	ms := elapsed()
	e.metrics.RecordRun(ctx, status, time.Duration(ms)*time.Millisecond)
	observability.LogRunComplete(e.logger, summary.RunID, status, ms)
	return summary, nil
}

// appendTransferLog appends one tool invocation's raw output, framed by the
// unit path, so the log remains attributable after concatenation.
func appendTransferLog(path, unitPath, output string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transfer log: %w", err)
	}
	defer f.Close()
	entry := fmt.Sprintf("==== %s %s ====\n%s\n", rundir.Timestamp(), unitPath, output)
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append transfer log: %w", err)
	}
	return nil
}

// chunk splits units into consecutive batches of at most size.
func chunk(units []discover.Unit, size int) [][]discover.Unit {
	var out [][]discover.Unit
	for start := 0; start < len(units); start += size {
		end := start + size
		if end > len(units) {
			end = len(units)
		}
		out = append(out, units[start:end])
	}
	return out
}
