package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
)

// FileStore persists one checkpoint.json per run directory.
// Saves go through a write-temp-then-rename, so a crash between write and
// process exit cannot leave a half-written checkpoint that a later Load
// would accept.
type FileStore struct {
	runsBase string
	mu       sync.Mutex
	closed   bool
}

// NewFileStore creates a checkpoint store rooted at the runs base directory.
func NewFileStore(runsBase string) *FileStore {
	return &FileStore{runsBase: runsBase}
}

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.runsBase, runID, rundir.CheckpointFile)
}

// Load implements Store.
func (s *FileStore) Load(runID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return cp, nil
}

// Save implements Store.
func (s *FileStore) Save(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return rundir.WriteJSON(s.path(cp.RunID), cp)
}

// Delete implements Store.
func (s *FileStore) Delete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := os.Remove(s.path(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
