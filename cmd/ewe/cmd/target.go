package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/justakazh/ewe/internal/config"
	"github.com/justakazh/ewe/internal/runlog"
)

// runRef locates a run from --output and/or --run flags.
type runRef struct {
	RunID   string
	PID     int
	Output  string
	LogPath string
	Live    bool
}

// resolveRun finds the run for an output folder, preferring an explicit run ID.
// A run is live when its output folder is locked.
func resolveRun(cfg *config.Config, output, runID string) (*runRef, error) {
	if output == "" && runID == "" {
		return nil, fmt.Errorf("either --output or --run is required")
	}
	ref := &runRef{RunID: runID}
	if output == "" {
		return ref, nil
	}

	abs, err := filepath.Abs(output)
	if err != nil {
		return nil, fmt.Errorf("resolving output folder: %w", err)
	}
	ref.Output = abs
	ref.LogPath = cfg.RunLogPath(abs)

	if holder, ok := runlog.IsLocked(cfg.LogDir(abs)); ok {
		ref.Live = true
		ref.PID = holder.PID
		if ref.RunID == "" {
			ref.RunID = holder.RunID
		}
	}
	return ref, nil
}

// splitTaskPath turns "a/b/c" into name segments.
func splitTaskPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}
