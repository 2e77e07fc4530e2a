package validate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomops/storerelay/pkg/storerelay/event"
	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
	"github.com/dicomops/storerelay/pkg/storerelay/validate"
)

// newInventory serves the instance-query endpoint with canned per-identifier
// responses.
func newInventory(t *testing.T, respond func(w http.ResponseWriter, id string)) (srv *httptest.Server, restHost string) {
	t.Helper()
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/dcm4chee-arc/aets/ARCHIVE/rs/instances") {
			http.NotFound(w, r)
			return
		}
		respond(w, r.URL.Query().Get("SOPInstanceUID"))
	}))
	t.Cleanup(srv.Close)
	return srv, strings.TrimPrefix(srv.URL, "http://")
}

func newRun(t *testing.T, identifiers string) (runsBase, runID string) {
	t.Helper()
	runsBase = t.TempDir()
	runID = "20240101_090000"
	layout, err := rundir.New(runsBase, runID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(layout.Path(rundir.SuccessFile), []byte(identifiers), 0o644))
	return runsBase, runID
}

func TestValidator_ClassifiesEachIdentifier(t *testing.T) {
	_, restHost := newInventory(t, func(w http.ResponseWriter, id string) {
		switch id {
		case "1.1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"00080018":{"Value":["1.1"]}}]`))
		case "1.2":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})
	runsBase, runID := newRun(t, "1.1\n1.2\n1.3\n")

	validator := validate.NewValidator(restHost, "ARCHIVE")
	report, err := validator.Run(context.Background(), runsBase, runID)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.OK)
	assert.Equal(t, 1, report.NotFound)
	assert.Equal(t, 1, report.APIError)

	layout, err := rundir.Open(runsBase, runID)
	require.NoError(t, err)

	rows, err := rundir.ReadCSVRows(layout.Path(rundir.ValidationFile))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, validate.IdentifierOK, rows[0]["status"])
	assert.Equal(t, validate.IdentifierNotFound, rows[1]["status"])
	assert.Equal(t, validate.IdentifierAPIError, rows[2]["status"])
	assert.Contains(t, rows[2]["detail"], "500")

	notValidated, err := os.ReadFile(layout.Path(rundir.NotValidatedFile))
	require.NoError(t, err)
	assert.Equal(t, "1.2\n1.3\n", string(notValidated))

	events, err := rundir.ReadCSVRows(layout.Path(rundir.ValidationEvents))
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, event.TypeValidationStart, events[0]["event_type"])
	assert.Equal(t, event.TypeValidationEnd, events[4]["event_type"])
	assert.Equal(t, event.LevelWarn, events[2]["level"])
}

func TestValidator_EmptyArrayIsNotFound(t *testing.T) {
	_, restHost := newInventory(t, func(w http.ResponseWriter, id string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
	runsBase, runID := newRun(t, "1.1\n")

	validator := validate.NewValidator(restHost, "ARCHIVE")
	report, err := validator.Run(context.Background(), runsBase, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.NotFound)
}

func TestValidator_UnreachableServiceIsAPIError(t *testing.T) {
	runsBase, runID := newRun(t, "1.1\n1.2\n")

	// Reserved port with nothing listening.
	validator := validate.NewValidator("127.0.0.1:1", "ARCHIVE")
	report, err := validator.Run(context.Background(), runsBase, runID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.APIError)
	assert.Equal(t, 0, report.OK)
}

func TestValidator_NoIdentifiers(t *testing.T) {
	runsBase, runID := newRun(t, "")

	validator := validate.NewValidator("127.0.0.1:1", "ARCHIVE")
	report, err := validator.Run(context.Background(), runsBase, runID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)

	layout, err := rundir.Open(runsBase, runID)
	require.NoError(t, err)
	assert.NoFileExists(t, layout.Path(rundir.NotValidatedFile))
}

func TestValidator_MissingRunDirectory(t *testing.T) {
	validator := validate.NewValidator("127.0.0.1:1", "ARCHIVE")
	_, err := validator.Run(context.Background(), t.TempDir(), "no-such-run")
	require.Error(t, err)
}

func TestValidator_RerunReplacesArtifacts(t *testing.T) {
	calls := 0
	_, restHost := newInventory(t, func(w http.ResponseWriter, id string) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[{"ok":true}]`))
	})
	runsBase, runID := newRun(t, "1.1\n")
	validator := validate.NewValidator(restHost, "ARCHIVE")

	report, err := validator.Run(context.Background(), runsBase, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.APIError)
	rec, err := validate.ReconcileRun(runsBase, report, nil)
	require.NoError(t, err)
	assert.Equal(t, validate.VerdictFail, rec.FinalStatus)

	report, err = validator.Run(context.Background(), runsBase, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OK)
	rec, err = validate.ReconcileRun(runsBase, report, nil)
	require.NoError(t, err)
	assert.Equal(t, validate.VerdictPass, rec.FinalStatus)

	layout, err := rundir.Open(runsBase, runID)
	require.NoError(t, err)
	rows, err := rundir.ReadCSVRows(layout.Path(rundir.ValidationFile))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.NoFileExists(t, layout.Path(rundir.NotValidatedFile))

	// The verdict is superseded, never accumulated.
	verdicts, err := rundir.ReadCSVRows(layout.Path(rundir.ReconciliationFile))
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.Equal(t, validate.VerdictPass, verdicts[0]["final_status"])
}
