// Package send drives the batched, checkpointed transfer of units through
// the external transfer tool.
package send

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ToolResult is the captured outcome of one tool invocation.
// Output holds the combined standard and error streams, buffered in full
// before any classification happens.
type ToolResult struct {
	Output   string
	ExitCode int
}

// Tool invokes the external transfer tool for one unit.
// A non-zero exit code is not an error; it is reported in the result. An
// error return means the tool could not run at all.
type Tool interface {
	// Check verifies the tool can be invoked. Called once before any work.
	Check() error

	// Send transfers one unit directory to the destination.
	Send(ctx context.Context, unitPath string) (ToolResult, error)

	// Probe invokes the tool with no input paths as a connectivity check
	// against the destination.
	Probe(ctx context.Context) (ToolResult, error)
}

// StoreSCU runs the dcm4che storescu binary.
type StoreSCU struct {
	path        string
	destination string
}

// StoreSCUOption configures StoreSCU.
type StoreSCUOption func(*StoreSCU)

// NewStoreSCU creates a tool invoking the given binary against the
// destination in aet@host:port form.
func NewStoreSCU(path, destination string, opts ...StoreSCUOption) *StoreSCU {
	t := &StoreSCU{
		path:        path,
		destination: destination,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Check implements Tool.
func (t *StoreSCU) Check() error {
	if _, err := exec.LookPath(t.path); err != nil {
		return fmt.Errorf("transfer tool not found: %w", err)
	}
	return nil
}

// Send implements Tool.
func (t *StoreSCU) Send(ctx context.Context, unitPath string) (ToolResult, error) {
	return t.run(ctx, "-c", t.destination, unitPath)
}

// Probe implements Tool.
// storescu issues a C-ECHO when given no input files.
func (t *StoreSCU) Probe(ctx context.Context) (ToolResult, error) {
	return t.run(ctx, "-c", t.destination)
}

func (t *StoreSCU) run(ctx context.Context, args ...string) (ToolResult, error) {
	cmd := exec.CommandContext(ctx, t.path, args...)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	result := ToolResult{Output: combined.String()}

	if err != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("tool invocation cancelled: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("invoke %s: %w", t.path, err)
	}
	return result, nil
}
