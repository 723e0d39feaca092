package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock is an exclusive lock on an output directory's log dir, held for the
// duration of a run so two runs cannot write the same log.
type Lock struct {
	file *os.File
	path string
}

// LockPath returns the lock file used for a log directory.
func LockPath(logDir string) string {
	return filepath.Join(logDir, "ewe.lock")
}

// AcquireLock takes the lock and records the holder's PID and run ID in it.
func AcquireLock(logDir, runID string) (*Lock, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	path := LockPath(logDir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("output directory %s is in use by another run: %w", filepath.Dir(logDir), err)
	}

	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d %s\n", os.Getpid(), runID)
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	os.Remove(l.path)
	return err
}

// Holder describes the run holding a lock.
type Holder struct {
	PID   int
	RunID string
}

// IsLocked reports whether a live run holds the log directory, and which.
func IsLocked(logDir string) (Holder, bool) {
	path := LockPath(logDir)
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return Holder{}, false
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Holder{}, false
	}

	data, _ := os.ReadFile(path)
	var h Holder
	fields := strings.Fields(string(data))
	if len(fields) > 0 {
		h.PID, _ = strconv.Atoi(fields[0])
	}
	if len(fields) > 1 {
		h.RunID = fields[1]
	}
	return h, true
}
