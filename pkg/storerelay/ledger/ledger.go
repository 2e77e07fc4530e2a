package ledger

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Ledger is the append-only, deduplicated record of outcome identifiers.
//
// An identifier lives in at most one of the success and error sets per run;
// whichever outcome is seen first wins and later sightings are ignored, so
// feeding the same tool output twice is idempotent. Comparison is
// case-insensitive. Mutations are serialized by an internal mutex; new
// identifiers are appended to flat per-set log files as they are seen.
type Ledger struct {
	mu    sync.Mutex
	rules Rules

	successPath string
	errorPath   string

	success map[string]string // lowercase key -> identifier as first seen
	errors  map[string]string
}

// New creates a ledger persisting to the given success and error log paths.
func New(rules Rules, successPath, errorPath string) *Ledger {
	return &Ledger{
		rules:       rules,
		successPath: successPath,
		errorPath:   errorPath,
		success:     make(map[string]string),
		errors:      make(map[string]string),
	}
}

// Hydrate loads previously persisted identifiers from the log files.
// Missing files are fine; used when resuming a run.
func (l *Ledger) Hydrate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := loadSet(l.successPath, l.success); err != nil {
		return fmt.Errorf("hydrate success log: %w", err)
	}
	if err := loadSet(l.errorPath, l.errors); err != nil {
		return fmt.Errorf("hydrate error log: %w", err)
	}
	return nil
}

// Record classifies raw tool output and returns how many previously unseen
// success and error identifiers it contributed. Already-known identifiers
// are silently ignored.
func (l *Ledger) Record(output string) (newSuccess, newError int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newSuccess, err = l.admit(l.rules.Accepted(output), l.success, l.successPath)
	if err != nil {
		return newSuccess, 0, err
	}
	newError, err = l.admit(l.rules.Rejected(output), l.errors, l.errorPath)
	return newSuccess, newError, err
}

// admit adds identifiers unseen in either set to target, appending each to
// the flat log at path.
func (l *Ledger) admit(ids []string, target map[string]string, path string) (int, error) {
	added := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		key := strings.ToLower(id)
		if _, ok := l.success[key]; ok {
			continue
		}
		if _, ok := l.errors[key]; ok {
			continue
		}
		target[key] = id
		if err := appendLine(path, id); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// SuccessCount returns the size of the success set.
func (l *Ledger) SuccessCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.success)
}

// ErrorCount returns the size of the error set.
func (l *Ledger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// Successes returns the success identifiers, sorted.
func (l *Ledger) Successes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedValues(l.success)
}

// Errors returns the error identifiers, sorted.
func (l *Ledger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedValues(l.errors)
}

// ReadIdentifierLog reads a flat identifier log file, deduplicated
// case-insensitively and sorted. A missing file yields an empty slice.
func ReadIdentifierLog(path string) ([]string, error) {
	set := make(map[string]string)
	if err := loadSet(path, set); err != nil {
		return nil, err
	}
	return sortedValues(set), nil
}

func loadSet(path string, target map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		key := strings.ToLower(id)
		if _, ok := target[key]; !ok {
			target[key] = id
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
