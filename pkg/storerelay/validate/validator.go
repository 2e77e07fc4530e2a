// Package validate confirms transferred identifiers against the remote
// inventory and reconciles the run into a final verdict.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dicomops/storerelay/pkg/storerelay/event"
	"github.com/dicomops/storerelay/pkg/storerelay/ledger"
	"github.com/dicomops/storerelay/pkg/storerelay/observability"
	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
)

// Per-identifier validation statuses.
const (
	IdentifierOK       = "OK"
	IdentifierNotFound = "NOT_FOUND"
	IdentifierAPIError = "API_ERROR"
)

// defaultQueryTimeout bounds a single inventory query.
const defaultQueryTimeout = 20 * time.Second

// Validator checks each sent identifier against the inventory query service.
//
// Queries run sequentially, one per identifier, each under its own timeout.
// A failed query is recorded as an API error and the pass continues; there
// are no retries.
type Validator struct {
	restHost string
	aeTitle  string
	timeout  time.Duration

	client  *http.Client
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures a Validator.
type Option func(*Validator)

// WithHTTPClient sets the HTTP client used for inventory queries.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) { v.client = c }
}

// WithLogger sets the structured logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithSpanManager sets the trace span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(v *Validator) { v.spans = s }
}

// WithQueryTimeout overrides the per-query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewValidator creates a validator querying the inventory service at
// restHost (host:port) for the given application entity.
func NewValidator(restHost, aeTitle string, opts ...Option) *Validator {
	v := &Validator{
		restHost: restHost,
		aeTitle:  aeTitle,
		timeout:  defaultQueryTimeout,
		client:   &http.Client{},
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Report aggregates one validation pass.
type Report struct {
	RunID    string
	Total    int
	OK       int
	NotFound int
	APIError int
}

var reportHeader = []string{"run_id", "identifier", "status", "checked_at", "detail"}

// Run validates every success identifier recorded by the run.
//
// The pass reads the run's success log, queries the inventory once per
// identifier, and writes the per-identifier report, the validation event
// log, and the list of identifiers that did not validate. Re-running
// replaces the previous pass's artifacts.
func (v *Validator) Run(ctx context.Context, runsBase, runID string) (Report, error) {
	layout, err := rundir.Open(runsBase, runID)
	if err != nil {
		return Report{}, err
	}
	ids, err := ledger.ReadIdentifierLog(layout.Path(rundir.SuccessFile))
	if err != nil {
		return Report{}, err
	}
	// A later pass supersedes the previous one entirely, the reconciliation
	// verdict included.
	if err := layout.Remove(
		rundir.ValidationFile, rundir.ValidationEvents, rundir.NotValidatedFile,
		rundir.ReconciliationFile,
	); err != nil {
		return Report{}, err
	}

	logger := observability.EnrichLogger(v.logger, runID)
	recorder := event.NewRecorder(layout.Path(rundir.ValidationEvents), runID)

	observability.LogValidationStart(v.logger, runID, len(ids))
	if err := recorder.Info(event.TypeValidationStart,
		fmt.Sprintf("identifiers=%d", len(ids)), ""); err != nil {
		return Report{}, err
	}

	ctx, span := v.spans.StartValidationSpan(ctx, runID)
	var runErr error
	defer func() { v.spans.EndSpanWithError(span, runErr) }()

	report := Report{RunID: runID, Total: len(ids)}
	var notValidated []string

	for _, id := range ids {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			return report, fmt.Errorf("validation cancelled: %w", ctx.Err())
		}

		queryStart := time.Now()
		status, detail := v.checkIdentifier(ctx, id)
		v.metrics.RecordValidationQuery(ctx, status, time.Since(queryStart))

		switch status {
		case IdentifierOK:
			report.OK++
		case IdentifierNotFound:
			report.NotFound++
			notValidated = append(notValidated, id)
		case IdentifierAPIError:
			report.APIError++
			notValidated = append(notValidated, id)
		}

		row := []string{runID, id, status, rundir.Timestamp(), detail}
		if err := rundir.AppendCSVRow(layout.Path(rundir.ValidationFile), reportHeader, row); err != nil {
			runErr = err
			return report, err
		}
		level := event.LevelInfo
		if status != IdentifierOK {
			level = event.LevelWarn
			logWarnIdentifier(logger, id, status, detail)
		}
		if err := recorder.Record(event.Event{
			Level: level, Type: event.TypeIdentifierValidated,
			Message: status, Extra: id,
		}); err != nil {
			runErr = err
			return report, err
		}
	}

	if len(notValidated) > 0 {
		data := strings.Join(notValidated, "\n") + "\n"
		if err := rundir.WriteBytes(layout.Path(rundir.NotValidatedFile), []byte(data)); err != nil {
			runErr = err
			return report, err
		}
	}

	if err := recorder.Info(event.TypeValidationEnd,
		fmt.Sprintf("ok=%d not_found=%d api_error=%d", report.OK, report.NotFound, report.APIError),
		""); err != nil {
		runErr = err
		return report, err
	}
	return report, nil
}

// checkIdentifier performs one inventory query and classifies the outcome.
func (v *Validator) checkIdentifier(ctx context.Context, id string) (status, detail string) {
	queryURL := fmt.Sprintf(
		"http://%s/dcm4chee-arc/aets/%s/rs/instances?SOPInstanceUID=%s",
		v.restHost, v.aeTitle, url.QueryEscape(id),
	)

	reqCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, queryURL, nil)
	if err != nil {
		return IdentifierAPIError, err.Error()
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return IdentifierAPIError, err.Error()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return IdentifierNotFound, ""
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return IdentifierAPIError, fmt.Sprintf("read response: %v", err)
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			return IdentifierNotFound, ""
		}
		var matches []json.RawMessage
		if err := json.Unmarshal(body, &matches); err != nil {
			return IdentifierAPIError, fmt.Sprintf("parse response: %v", err)
		}
		if len(matches) == 0 {
			return IdentifierNotFound, ""
		}
		return IdentifierOK, ""
	default:
		return IdentifierAPIError, fmt.Sprintf("http status %d", resp.StatusCode)
	}
}

func logWarnIdentifier(logger *slog.Logger, id, status, detail string) {
	if logger == nil {
		return
	}
	logger.Warn("identifier did not validate",
		slog.String("identifier", id),
		slog.String("status", status),
		slog.String("detail", detail),
	)
}
