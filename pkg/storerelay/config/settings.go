package config

import (
	"fmt"
	"strings"
	"time"
)

// Settings is the typed configuration consumed by the pipeline.
// Built once from a Config at the edge and passed to components by value.
type Settings struct {
	// ToolPath is the external transfer tool binary (storescu).
	ToolPath string

	// Destination application entity.
	AETitle string
	Host    string
	Port    int

	// RestHost is the host:port of the remote inventory query service.
	RestHost string

	// RunsBase is the directory holding per-run directories.
	RunsBase string

	// BatchSize is the default unit batch size.
	BatchSize int

	// QueryTimeout bounds each inventory query during validation.
	QueryTimeout time.Duration
}

// Default deployment values.
const (
	defaultAETitle   = "HMD_IMPORTED"
	defaultHost      = "192.168.1.70"
	defaultPort      = 5555
	defaultRestHost  = "192.168.1.70:8080"
	defaultBatchSize = 50
	defaultRunsBase  = "runs"
)

// SettingsFrom extracts typed settings from a Config, applying defaults.
func SettingsFrom(c Config) Settings {
	return Settings{
		ToolPath:     c.String("tool_path", "storescu"),
		AETitle:      c.String("ae_title", defaultAETitle),
		Host:         c.String("host", defaultHost),
		Port:         c.Int("port", defaultPort),
		RestHost:     c.String("rest_host", defaultRestHost),
		RunsBase:     c.String("runs_base", defaultRunsBase),
		BatchSize:    c.Int("batch_size", defaultBatchSize),
		QueryTimeout: c.Duration("query_timeout", 20*time.Second),
	}
}

// Validate checks the settings needed before any work begins.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.ToolPath) == "" {
		return fmt.Errorf("tool_path is required")
	}
	if strings.TrimSpace(s.AETitle) == "" {
		return fmt.Errorf("ae_title is required")
	}
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", s.Port)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", s.BatchSize)
	}
	return nil
}

// Destination returns the tool's destination argument, aet@host:port.
func (s Settings) Destination() string {
	return fmt.Sprintf("%s@%s:%d", s.AETitle, s.Host, s.Port)
}
