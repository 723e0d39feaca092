// Package errors provides structured error types for EWE.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for EWE operations.
const (
	// Config errors
	CodeConfigMissingField = "CONFIG_001" // Missing required field
	CodeConfigInvalidValue = "CONFIG_002" // Invalid value type

	// Workflow errors
	CodeWorkflowParseError    = "WORKFLOW_001" // Parse error
	CodeWorkflowInvalidTask   = "WORKFLOW_002" // Validation error - malformed task
	CodeWorkflowDuplicateName = "WORKFLOW_003" // Validation error - duplicate sibling name

	// Task errors
	CodeTaskLaunchFailed      = "TASK_001" // Process could not start
	CodeTaskNonZeroExit       = "TASK_002" // Process exited non-zero
	CodeTaskInvalidTransition = "TASK_003" // Invalid status transition
	CodeTaskNotFound          = "TASK_004" // No task at path

	// IPC errors
	CodeIPCUnreachable = "IPC_001" // Run socket not reachable

	// IO errors
	CodeIOFileNotFound = "IO_001" // File not found
	CodeIOPermission   = "IO_002" // Permission denied
	CodeIOReadError    = "IO_004" // Read error
	CodeIOWriteError   = "IO_005" // Write error
)

// EweError is the structured error type for EWE operations.
type EweError struct {
	Code    string         `json:"code"`              // Error code (e.g., "TASK_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (task, path, etc.)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *EweError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *EweError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *EweError) WithDetail(key string, value any) *EweError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *EweError) WithCause(err error) *EweError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *EweError) MarshalJSON() ([]byte, error) {
	type alias EweError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new EweError.
func New(code, message string) *EweError {
	return &EweError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new EweError with formatted message.
func Newf(code, format string, args ...any) *EweError {
	return &EweError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with an EweError.
func Wrap(code, message string, err error) *EweError {
	return &EweError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted EweError.
func Wrapf(code string, err error, format string, args ...any) *EweError {
	return &EweError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// --- Config Errors ---

// ConfigMissingField creates an error for missing config field.
func ConfigMissingField(field string) *EweError {
	return Newf(CodeConfigMissingField, "missing required config field: %s", field).
		WithDetail("field", field)
}

// ConfigInvalidValue creates an error for invalid config value.
func ConfigInvalidValue(field string, value any, reason string) *EweError {
	return Newf(CodeConfigInvalidValue, "invalid config value for %s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// --- Workflow Errors ---

// WorkflowParseError creates an error for workflow file parsing failure.
func WorkflowParseError(path string, err error) *EweError {
	return Wrap(CodeWorkflowParseError, "failed to parse workflow", err).
		WithDetail("path", path)
}

// WorkflowInvalidTask creates an error for a malformed task node.
func WorkflowInvalidTask(taskPath, reason string) *EweError {
	return Newf(CodeWorkflowInvalidTask, "invalid task %s: %s", taskPath, reason).
		WithDetail("task", taskPath).
		WithDetail("reason", reason)
}

// WorkflowDuplicateName creates an error for two siblings sharing a name.
func WorkflowDuplicateName(taskPath, name string) *EweError {
	return Newf(CodeWorkflowDuplicateName, "duplicate task name %q under %s", name, taskPath).
		WithDetail("task", taskPath).
		WithDetail("name", name)
}

// --- Task Errors ---

// TaskLaunchFailed creates an error for a process that could not start.
func TaskLaunchFailed(command string, err error) *EweError {
	return Wrap(CodeTaskLaunchFailed, "failed to launch command", err).
		WithDetail("command", command)
}

// TaskNonZeroExit creates an error for a command that exited non-zero.
func TaskNonZeroExit(taskName string, exitCode int) *EweError {
	return Newf(CodeTaskNonZeroExit, "task %s exited with code %d", taskName, exitCode).
		WithDetail("task", taskName).
		WithDetail("exit_code", exitCode)
}

// TaskInvalidTransition creates an error for invalid status transition.
func TaskInvalidTransition(taskName, from, to string) *EweError {
	return Newf(CodeTaskInvalidTransition, "invalid status transition for task %s: %s -> %s", taskName, from, to).
		WithDetail("task", taskName).
		WithDetail("from", from).
		WithDetail("to", to)
}

// TaskNotFound creates an error for a path that resolves to no task.
func TaskNotFound(path any) *EweError {
	return Newf(CodeTaskNotFound, "no task at path %v", path).
		WithDetail("path", path)
}

// --- IPC Errors ---

// IPCUnreachable creates an error for a run whose socket cannot be reached.
func IPCUnreachable(socket string, err error) *EweError {
	return Wrap(CodeIPCUnreachable, "run is not reachable", err).
		WithDetail("socket", socket)
}

// --- IO Errors ---

// IOFileNotFound creates an error for missing file.
func IOFileNotFound(path string) *EweError {
	return Newf(CodeIOFileNotFound, "file not found: %s", path).
		WithDetail("path", path)
}

// IOPermissionDenied creates an error for permission issues.
func IOPermissionDenied(path string, err error) *EweError {
	return Wrap(CodeIOPermission, "permission denied", err).
		WithDetail("path", path)
}

// IOReadError creates an error for read failures.
func IOReadError(path string, err error) *EweError {
	return Wrap(CodeIOReadError, "failed to read file", err).
		WithDetail("path", path)
}

// IOWriteError creates an error for write failures.
func IOWriteError(path string, err error) *EweError {
	return Wrap(CodeIOWriteError, "failed to write file", err).
		WithDetail("path", path)
}

// HasCode checks if an error is an EweError with the given code.
// It handles wrapped errors by unwrapping to find an EweError.
func HasCode(err error, code string) bool {
	var eerr *EweError
	if errors.As(err, &eerr) {
		return eerr.Code == code
	}
	return false
}

// Code returns the error code if err is an EweError, empty string otherwise.
func Code(err error) string {
	var eerr *EweError
	if errors.As(err, &eerr) {
		return eerr.Code
	}
	return ""
}
