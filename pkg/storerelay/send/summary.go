package send

import (
	"fmt"
	"strconv"

	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
)

// Send-phase statuses. The send status feeds the reconciliation verdict; it
// is not the final word on the run.
const (
	StatusPass             = "PASS"
	StatusPassWithWarnings = "PASS_WITH_WARNINGS"
	StatusInterrupted      = "INTERRUPTED"
)

// Summary aggregates one execution of the send phase.
// Computed once, at the natural end of the execution.
//
// UnitsSent and UnitsSkippedEmpty count only the units this execution
// processed; UnitsCompleted, SuccessCount and ErrorCount cover the whole run,
// earlier resumed-from executions included.
type Summary struct {
	RunID             string
	RunDir            string
	RootPath          string
	Destination       string
	BatchSize         int
	UnitsTotal        int
	UnitsCompleted    int
	UnitsSent         int
	UnitsSkippedEmpty int
	SuccessCount      int
	ErrorCount        int
	SendStatus        string

	// NothingPending is set when the checkpoint already covered every
	// discovered unit and no work was attempted.
	NothingPending bool
}

var summaryHeader = []string{
	"run_id", "root_path", "destination", "batch_size", "units_total",
	"units_completed", "units_sent", "units_skipped_empty", "success_count",
	"error_count", "send_status", "finished_at",
}

// write appends the summary row to the run's summary file.
func (s Summary) write(path string) error {
	row := []string{
		s.RunID,
		s.RootPath,
		s.Destination,
		strconv.Itoa(s.BatchSize),
		strconv.Itoa(s.UnitsTotal),
		strconv.Itoa(s.UnitsCompleted),
		strconv.Itoa(s.UnitsSent),
		strconv.Itoa(s.UnitsSkippedEmpty),
		strconv.Itoa(s.SuccessCount),
		strconv.Itoa(s.ErrorCount),
		s.SendStatus,
		rundir.Timestamp(),
	}
	if err := rundir.AppendCSVRow(path, summaryHeader, row); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	return nil
}
