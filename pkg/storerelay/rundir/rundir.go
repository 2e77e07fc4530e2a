// Package rundir manages the on-disk layout of a run directory.
//
// Every run owns exactly one directory under the runs base; all artifacts
// produced by the send and validation phases live inside it. Writers in this
// package are atomic (write-temp-then-rename) so a crash between write and
// exit never leaves a partially written file behind.
package rundir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Artifact filenames inside a run directory.
const (
	ManifestFile       = "manifest_units.csv"
	TransferLogFile    = "transfer.log"
	SuccessFile        = "success_identifiers.txt"
	ErrorFile          = "error_identifiers.txt"
	CheckpointFile     = "checkpoint.json"
	UnitResultsFile    = "unit_results.csv"
	EventsFile         = "events.csv"
	SummaryFile        = "summary.csv"
	ValidationFile     = "validation_report.csv"
	ValidationEvents   = "validation_events.csv"
	ReconciliationFile = "reconciliation_report.csv"
	NotValidatedFile   = "not_validated_identifiers.txt"
)

// runIDFormat is the time layout for generated run ids.
const runIDFormat = "20060102_150405"

// NewRunID returns a fresh time-derived run identifier.
func NewRunID() string {
	return time.Now().Format(runIDFormat)
}

// timestampFormat is the wall-clock layout used in run artifacts.
const timestampFormat = "2006-01-02T15:04:05"

// Timestamp returns the current time formatted for run artifacts.
func Timestamp() string {
	return time.Now().Format(timestampFormat)
}

// Layout resolves artifact paths for one run directory.
type Layout struct {
	dir string
}

// New returns a Layout rooted at runsBase/runID, creating the directory.
func New(runsBase, runID string) (Layout, error) {
	id := strings.TrimSpace(runID)
	if id == "" {
		return Layout{}, fmt.Errorf("run id is required")
	}
	dir := filepath.Join(runsBase, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Layout{}, fmt.Errorf("create run directory %s: %w", dir, err)
	}
	return Layout{dir: dir}, nil
}

// Open returns a Layout for an existing run directory.
// Fails if the directory does not exist.
func Open(runsBase, runID string) (Layout, error) {
	id := strings.TrimSpace(runID)
	if id == "" {
		return Layout{}, fmt.Errorf("run id is required")
	}
	dir := filepath.Join(runsBase, id)
	info, err := os.Stat(dir)
	if err != nil {
		return Layout{}, fmt.Errorf("run directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Layout{}, fmt.Errorf("run directory %s: not a directory", dir)
	}
	return Layout{dir: dir}, nil
}

// Dir returns the run directory path.
func (l Layout) Dir() string { return l.dir }

// Path returns the absolute path of an artifact inside the run directory.
func (l Layout) Path(name string) string { return filepath.Join(l.dir, name) }

// Remove deletes the named artifacts if they exist.
// Used when a run restarts clean so stale logs cannot survive.
func (l Layout) Remove(names ...string) error {
	for _, name := range names {
		if err := os.Remove(l.Path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", l.Path(name), err)
		}
	}
	return nil
}

// List returns the run ids under runsBase, newest first.
// A missing runs base is treated as no runs, not an error.
func List(runsBase string) ([]string, error) {
	entries, err := os.ReadDir(runsBase)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read runs base %s: %w", runsBase, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}
