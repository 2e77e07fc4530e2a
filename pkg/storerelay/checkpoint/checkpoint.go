// Package checkpoint provides durable, resumable progress tracking for runs.
package checkpoint

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Checkpoint is the persisted snapshot of which units a run has completed.
// CompletedUnits only grows within a run.
type Checkpoint struct {
	RunID          string    `json:"run_id"`
	RootPath       string    `json:"root_path"`
	BatchSize      int       `json:"batch_size"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedUnits []string  `json:"completed_units"`
}

// New creates a checkpoint for a run with no completed units yet.
func New(runID, rootPath string, batchSize int) *Checkpoint {
	return &Checkpoint{
		RunID:     runID,
		RootPath:  rootPath,
		BatchSize: batchSize,
		UpdatedAt: time.Now().UTC(),
	}
}

// Marshal serializes the checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MatchesRoot reports whether the checkpoint was recorded for root.
// A checkpoint from a different root is unusable for resume.
func (c *Checkpoint) MatchesRoot(root string) bool {
	return c.RootPath == root
}

// CompletedSet returns the completed units as a membership set.
func (c *Checkpoint) CompletedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.CompletedUnits))
	for _, u := range c.CompletedUnits {
		set[u] = struct{}{}
	}
	return set
}

// MarkCompleted adds a unit to the completed set and refreshes UpdatedAt.
// Adding an already-completed unit is a no-op.
func (c *Checkpoint) MarkCompleted(unitPath string) {
	for _, u := range c.CompletedUnits {
		if u == unitPath {
			return
		}
	}
	c.CompletedUnits = append(c.CompletedUnits, unitPath)
	sort.Strings(c.CompletedUnits)
	c.UpdatedAt = time.Now().UTC()
}

// Store persists checkpoints for crash recovery.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load retrieves the checkpoint for a run.
	// Returns ErrNotFound if none exists, ErrCorrupt if one exists but
	// cannot be parsed.
	Load(runID string) (*Checkpoint, error)

	// Save stores a checkpoint, overwriting any previous one for the run.
	// The write must be atomic: a crash mid-save never yields a state the
	// next Load would accept as valid.
	Save(cp *Checkpoint) error

	// Delete removes the checkpoint for a run.
	// Returns nil if none exists.
	Delete(runID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates no checkpoint exists for the run.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupt indicates a checkpoint exists but could not be parsed.
	// Callers treat it as absence, with a warning.
	ErrCorrupt = errors.New("checkpoint corrupt")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
