package send

import (
	"context"
	"log/slog"
)

// Probe checks connectivity to the destination without transferring data.
// The tool is invoked with no input paths, which issues an association-level
// echo. A non-zero exit code means the destination refused or is unreachable.
func Probe(ctx context.Context, tool Tool, logger *slog.Logger) (ToolResult, error) {
	if err := tool.Check(); err != nil {
		return ToolResult{}, err
	}
	result, err := tool.Probe(ctx)
	if err != nil {
		return result, err
	}
	if logger != nil {
		if result.ExitCode == 0 {
			logger.Info("destination probe succeeded")
		} else {
			logger.Warn("destination probe failed",
				slog.Int("exit_code", result.ExitCode))
		}
	}
	return result, nil
}
