package send

import (
	"fmt"
	"strconv"

	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
)

// Per-unit terminal statuses.
const (
	UnitDone             = "DONE"
	UnitDoneWithWarnings = "DONE_WITH_WARNINGS"
	UnitSkippedEmpty     = "SKIPPED_EMPTY"
)

// UnitResult is one append-only record per unit per execution.
type UnitResult struct {
	RunID      string
	UnitPath   string
	Batch      int
	Status     string
	ExitCode   int
	NewSuccess int
	NewError   int
}

var unitResultHeader = []string{
	"run_id", "unit_path", "batch", "status", "exit_code",
	"new_success", "new_error", "processed_at",
}

// writeUnitResult appends one unit result row.
// Skipped units carry no exit code.
func writeUnitResult(path string, r UnitResult) error {
	exitCode := ""
	if r.Status != UnitSkippedEmpty {
		exitCode = strconv.Itoa(r.ExitCode)
	}
	row := []string{
		r.RunID,
		r.UnitPath,
		strconv.Itoa(r.Batch),
		r.Status,
		exitCode,
		strconv.Itoa(r.NewSuccess),
		strconv.Itoa(r.NewError),
		rundir.Timestamp(),
	}
	if err := rundir.AppendCSVRow(path, unitResultHeader, row); err != nil {
		return fmt.Errorf("write unit result: %w", err)
	}
	return nil
}
