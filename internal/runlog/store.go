// Package runlog persists run state to the log file in the output directory.
package runlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/justakazh/ewe/internal/config"
	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/types"
)

// Store writes the run log atomically on every notification.
type Store struct {
	path   string
	format config.RunLogFormat
	logger *slog.Logger

	mu      sync.Mutex
	lastErr error
	writes  int
}

// NewStore creates the log directory and recovers any interrupted write.
func NewStore(path string, format config.RunLogFormat, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if format == "" {
		format = FormatForPath(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ewerrors.IOWriteError(filepath.Dir(path), err)
	}
	recoverInterruptedWrite(path)

	return &Store{
		path:   path,
		format: format,
		logger: logger.With("component", "runlog"),
	}, nil
}

// Path returns the log file path.
func (s *Store) Path() string {
	return s.path
}

// Notify persists the snapshot. Write failures are logged and kept for Err;
// they never stop the run.
func (s *Store) Notify(run *types.RunLog) {
	if err := s.Save(run); err != nil {
		s.logger.Error("failed to write run log", "path", s.path, "error", err)
	}
}

// Save writes the run log (write-then-rename).
func (s *Store) Save(run *types.RunLog) error {
	data, err := Marshal(run, s.format)
	if err != nil {
		return s.record(fmt.Errorf("marshaling run log: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		s.lastErr = ewerrors.IOWriteError(tmpPath, err)
		return s.lastErr
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		s.lastErr = ewerrors.IOWriteError(s.path, err)
		return s.lastErr
	}
	s.writes++
	return nil
}

func (s *Store) record(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// Err returns the most recent write error, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Writes returns the number of successful writes.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Marshal encodes a run log in the given format.
func Marshal(run *types.RunLog, format config.RunLogFormat) ([]byte, error) {
	switch format {
	case config.RunLogFormatYAML:
		return yaml.Marshal(run)
	case config.RunLogFormatJSON, "":
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown run log format %q", format)
	}
}

// Load reads a persisted run log. The format follows the file extension.
func Load(path string) (*types.RunLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ewerrors.IOFileNotFound(path)
		}
		return nil, ewerrors.IOReadError(path, err)
	}

	var run types.RunLog
	switch FormatForPath(path) {
	case config.RunLogFormatYAML:
		err = yaml.Unmarshal(data, &run)
	default:
		err = json.Unmarshal(data, &run)
	}
	if err != nil {
		return nil, ewerrors.IOReadError(path, fmt.Errorf("parsing run log: %w", err))
	}
	return &run, nil
}

// FormatForPath picks yaml for .yaml/.yml files and json otherwise.
func FormatForPath(path string) config.RunLogFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.RunLogFormatYAML
	default:
		return config.RunLogFormatJSON
	}
}

// recoverInterruptedWrite handles a .tmp file left by a crash mid-write.
func recoverInterruptedWrite(path string) {
	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); err != nil {
		return
	}
	if _, err := os.Stat(path); err == nil {
		os.Remove(tmpPath)
		return
	}
	os.Rename(tmpPath, path)
}
