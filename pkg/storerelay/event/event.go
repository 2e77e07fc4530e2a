// Package event provides the append-only structured event log for a run.
//
// Every lifecycle moment of the send and validation phases lands here as one
// row. Rows are never rewritten or deleted; each append is a single flush,
// so a live reader tailing the file only ever sees whole rows.
package event

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
)

// Severity levels for events.
const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
)

// Event types emitted by the send phase.
const (
	TypeRunStart       = "RUN_START"
	TypeBatchStart     = "BATCH_START"
	TypeUnitSendStart  = "UNIT_SEND_START"
	TypeUnitSendEnd    = "UNIT_SEND_END"
	TypeUnitSkipped    = "UNIT_SKIPPED_EMPTY"
	TypeBatchEnd       = "BATCH_END"
	TypeRunEnd         = "RUN_END"
	TypeRunInterrupted = "RUN_INTERRUPTED"
)

// Event types emitted by the validation phase.
const (
	TypeValidationStart     = "VALIDATION_START"
	TypeIdentifierValidated = "IDENTIFIER_VALIDATED"
	TypeValidationEnd       = "VALIDATION_END"
)

// Event is one lifecycle record. Batch is zero for run-level events.
type Event struct {
	Level   string
	Type    string
	Batch   int
	Unit    string
	Message string
	Extra   string
}

var header = []string{
	"event_id", "timestamp", "run_id", "level", "event_type",
	"batch", "unit_path", "message", "extra",
}

// Recorder appends events for one run to a CSV file.
// Safe for use from multiple goroutines; the writer is serialized.
type Recorder struct {
	mu    sync.Mutex
	path  string
	runID string
}

// NewRecorder creates a recorder appending to path for the given run.
func NewRecorder(path, runID string) *Recorder {
	return &Recorder{path: path, runID: runID}
}

// Record appends one event row.
func (r *Recorder) Record(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := ""
	if ev.Batch > 0 {
		batch = strconv.Itoa(ev.Batch)
	}
	row := []string{
		uuid.New().String(),
		rundir.Timestamp(),
		r.runID,
		ev.Level,
		ev.Type,
		batch,
		ev.Unit,
		ev.Message,
		ev.Extra,
	}
	if err := rundir.AppendCSVRow(r.path, header, row); err != nil {
		return fmt.Errorf("record event %s: %w", ev.Type, err)
	}
	return nil
}

// Info records an informational run-level event.
func (r *Recorder) Info(eventType, message, extra string) error {
	return r.Record(Event{Level: LevelInfo, Type: eventType, Message: message, Extra: extra})
}

// Warn records a warning run-level event.
func (r *Recorder) Warn(eventType, message, extra string) error {
	return r.Record(Event{Level: LevelWarn, Type: eventType, Message: message, Extra: extra})
}
