package engine

import "fmt"

// ErrorMode decides what happens to a task's children when it does not finish done.
type ErrorMode string

const (
	// ModeCascadeSkip marks the whole subtree skipped after error or stopped. Default.
	ModeCascadeSkip ErrorMode = "cascade-skip"
	// ModeIgnoreErrors always runs the children.
	ModeIgnoreErrors ErrorMode = "ignore-and-continue"
)

// Valid returns true if this is a recognized mode.
func (m ErrorMode) Valid() bool {
	return m == ModeCascadeSkip || m == ModeIgnoreErrors
}

// Context is the immutable per-run configuration.
type Context struct {
	Target        string
	OutputDir     string
	Mode          ErrorMode
	CaptureStdout bool
}

// Validate checks the context before a run starts.
func (c Context) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown error mode %q", c.Mode)
	}
	return nil
}
