package validate

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dicomops/storerelay/pkg/storerelay/ledger"
	"github.com/dicomops/storerelay/pkg/storerelay/observability"
	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
)

// Final run verdicts.
const (
	VerdictPass             = "PASS"
	VerdictPassWithWarnings = "PASS_WITH_WARNINGS"
	VerdictFail             = "FAIL"
)

// Tally holds the counts the verdict is derived from.
type Tally struct {
	TotalSuccess int
	OK           int
	NotFound     int
	APIError     int
	SendErrors   int
}

// Reconcile derives the final verdict from a tally.
//
// Rules apply in order:
//  1. Every sent identifier failed to be checked: the inventory could not
//     be consulted at all, so nothing is confirmed. FAIL.
//  2. Any identifier missing, any query error, or any send-phase rejection:
//     the run landed but not cleanly. PASS_WITH_WARNINGS.
//  3. Otherwise PASS. A run that sent nothing has nothing unconfirmed and
//     passes.
func Reconcile(t Tally) (status, reason string) {
	switch {
	case t.TotalSuccess > 0 && t.APIError == t.TotalSuccess:
		return VerdictFail, fmt.Sprintf(
			"all %d inventory queries failed, nothing confirmed", t.TotalSuccess)
	case t.NotFound > 0 || t.APIError > 0 || t.SendErrors > 0:
		return VerdictPassWithWarnings, fmt.Sprintf(
			"not_found=%d api_error=%d send_errors=%d", t.NotFound, t.APIError, t.SendErrors)
	default:
		return VerdictPass, fmt.Sprintf("all %d identifiers confirmed", t.OK)
	}
}

// Reconciliation is the persisted final verdict of a run.
type Reconciliation struct {
	RunID       string
	Tally       Tally
	FinalStatus string
	Reason      string
}

var reconciliationHeader = []string{
	"run_id", "total_success_sent", "total_ok", "total_not_found",
	"total_api_error", "total_send_errors", "final_status", "reason",
	"generated_at",
}

// ReconcileRun combines a validation report with the run's send-phase error
// count, writes the reconciliation report, and returns the verdict.
func ReconcileRun(runsBase string, rep Report, logger *slog.Logger) (Reconciliation, error) {
	layout, err := rundir.Open(runsBase, rep.RunID)
	if err != nil {
		return Reconciliation{}, err
	}
	sendErrors, err := ledger.ReadIdentifierLog(layout.Path(rundir.ErrorFile))
	if err != nil {
		return Reconciliation{}, err
	}

	tally := Tally{
		TotalSuccess: rep.Total,
		OK:           rep.OK,
		NotFound:     rep.NotFound,
		APIError:     rep.APIError,
		SendErrors:   len(sendErrors),
	}
	status, reason := Reconcile(tally)

	rec := Reconciliation{
		RunID:       rep.RunID,
		Tally:       tally,
		FinalStatus: status,
		Reason:      reason,
	}
	row := []string{
		rec.RunID,
		strconv.Itoa(tally.TotalSuccess),
		strconv.Itoa(tally.OK),
		strconv.Itoa(tally.NotFound),
		strconv.Itoa(tally.APIError),
		strconv.Itoa(tally.SendErrors),
		rec.FinalStatus,
		rec.Reason,
		rundir.Timestamp(),
	}
	if err := rundir.AppendCSVRow(layout.Path(rundir.ReconciliationFile), reconciliationHeader, row); err != nil {
		return Reconciliation{}, fmt.Errorf("write reconciliation report: %w", err)
	}

	observability.LogValidationComplete(logger, rec.RunID, rec.FinalStatus,
		tally.OK, tally.NotFound, tally.APIError)
	return rec, nil
}
