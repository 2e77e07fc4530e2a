package discover

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
)

var manifestHeader = []string{"run_id", "unit_path", "file_count", "discovered_at"}

// WriteManifest freezes the discovered unit set as one snapshot row per unit.
//
// The manifest is rewritten on every execution, resumed ones included, so it
// always reflects the current filesystem state. It is informational only:
// resume decisions come from the checkpoint, never from here.
func WriteManifest(path, runID string, units []Unit) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset manifest %s: %w", path, err)
	}
	discoveredAt := rundir.Timestamp()
	for _, u := range units {
		row := []string{runID, u.Path, strconv.Itoa(u.FileCount), discoveredAt}
		if err := rundir.AppendCSVRow(path, manifestHeader, row); err != nil {
			return fmt.Errorf("write manifest row: %w", err)
		}
	}
	return nil
}
