package workflow

import (
	"errors"
	"fmt"
	"strings"

	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/types"
)

// ValidationError represents a single validation problem.
type ValidationError struct {
	Code    string // Error code (WORKFLOW_00x)
	Path    string // Slash-separated task name path, "/" for the workflow
	Field   string // Field name if applicable
	Message string // Error message

	err *ewerrors.EweError
}

func (e ValidationError) Error() string {
	location := e.Path
	if e.Field != "" {
		location += fmt.Sprintf(" (field %q)", e.Field)
	}
	return fmt.Sprintf("%s: %s", location, e.Message)
}

// ValidationResult holds all validation errors and warnings.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error implements the error interface.
func (r *ValidationResult) Error() string {
	if len(r.Errors) == 0 {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("validation failed with %d error(s):\n  - %s",
		len(r.Errors), strings.Join(msgs, "\n  - "))
}

// Err returns the result as an error, or nil when there are no errors.
// The error carries the first problem's code; the remaining problems are
// joined as its cause.
func (r *ValidationResult) Err() error {
	if !r.HasErrors() {
		return nil
	}
	first := r.Errors[0].err
	first.WithDetail("count", len(r.Errors))
	if len(r.Errors) > 1 {
		rest := make([]error, 0, len(r.Errors)-1)
		for _, e := range r.Errors[1:] {
			rest = append(rest, e.err)
		}
		first.WithCause(errors.Join(rest...))
	}
	return first
}

func (r *ValidationResult) invalid(path, field, reason string) {
	err := ewerrors.WorkflowInvalidTask(path, reason)
	if field != "" {
		err.WithDetail("field", field)
	}
	r.Errors = append(r.Errors, ValidationError{Code: err.Code, Path: path, Field: field, Message: reason, err: err})
}

func (r *ValidationResult) duplicate(levelPath, name string) {
	err := ewerrors.WorkflowDuplicateName(levelPath, name).WithDetail("field", "name")
	r.Errors = append(r.Errors, ValidationError{
		Code:    err.Code,
		Path:    levelPath,
		Field:   "name",
		Message: fmt.Sprintf("duplicate task name %q", name),
		err:     err,
	})
}

func (r *ValidationResult) warn(path, field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Path: path, Field: field, Message: message})
}

// Validate checks a workflow tree before anything runs.
// All problems are collected, not just the first one.
func Validate(wf *types.Workflow) *ValidationResult {
	result := &ValidationResult{}
	if wf == nil {
		result.invalid("/", "", "workflow is empty")
		return result
	}
	if len(wf.Tasks) == 0 {
		result.warn("/", "tasks", "workflow has no tasks, nothing will run")
		return result
	}

	seen := make(map[*types.Task]bool)
	validateLevel(wf.Tasks, "", true, seen, result)
	return result
}

func validateLevel(tasks []*types.Task, parentPath string, root bool, seen map[*types.Task]bool, result *ValidationResult) {
	names := make(map[string]bool, len(tasks))
	levelPath := parentPath
	if levelPath == "" {
		levelPath = "/"
	}

	for i, task := range tasks {
		if task == nil {
			result.invalid(fmt.Sprintf("%s[%d]", levelPath, i), "", "task is null")
			continue
		}

		path := parentPath + "/" + task.Name
		if task.Name == "" {
			path = fmt.Sprintf("%s/[%d]", parentPath, i)
		}

		if seen[task] {
			result.invalid(path, "", "task appears more than once in the tree")
			continue
		}
		seen[task] = true

		if task.Name == "" {
			result.invalid(path, "name", "name is required")
		} else if strings.Contains(task.Name, "/") {
			result.invalid(path, "name", "name must not contain '/'")
		} else if names[task.Name] {
			result.duplicate(levelPath, task.Name)
		}
		names[task.Name] = true

		if strings.TrimSpace(task.Command) == "" {
			result.invalid(path, "command", "command is required")
		}

		if root && task.WaitAll {
			result.warn(path, "wait_all", "wait_all has no effect on a root task")
		}

		validateLevel(task.Tasks, path, false, seen, result)
	}
}
