// Package discover walks a root directory and frames the unit-of-work list.
//
// A unit is a terminal (leaf) directory: one with zero subdirectories. Units
// are recomputed on every execution; only the checkpoint decides what is
// still pending.
package discover

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Unit is one leaf directory, snapshotted at discovery time.
type Unit struct {
	Path      string
	FileCount int
}

// NotFoundError indicates the discovery root does not exist.
type NotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("root path not found: %s", e.Path)
}

// Units returns all leaf directories under root, sorted by path.
// The root itself is a unit when it has no subdirectories.
//
// Traversal is an explicit stack, not call-stack recursion, so arbitrarily
// deep trees cannot overflow. Directories that become unreadable mid-walk
// are skipped with a warning.
func Units(root string, logger *slog.Logger) ([]Unit, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: abs}
		}
		return nil, fmt.Errorf("stat root path %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", abs)
	}

	var units []Unit
	stack := []string{abs}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(current)
		if err != nil {
			logWarnUnreadable(logger, current, err)
			continue
		}

		fileCount := 0
		hasSubdir := false
		for _, e := range entries {
			if e.IsDir() {
				hasSubdir = true
				stack = append(stack, filepath.Join(current, e.Name()))
			} else {
				fileCount++
			}
		}
		if !hasSubdir {
			units = append(units, Unit{Path: current, FileCount: fileCount})
		}
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Path < units[j].Path })
	return units, nil
}

// HasDirectFiles reports whether the directory holds at least one direct
// file entry right now. An unreadable directory counts as empty.
func HasDirectFiles(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() {
			return true
		}
	}
	return false
}

func logWarnUnreadable(logger *slog.Logger, path string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("skipping unreadable directory",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}
