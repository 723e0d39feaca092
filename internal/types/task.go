// Package types defines the task tree, workflow and run log shared by EWE packages.
package types

import (
	"fmt"
	"path/filepath"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending" // Not dispatched yet
	TaskStatusRunning TaskStatus = "running" // Command is executing
	TaskStatusDone    TaskStatus = "done"    // Command exited zero
	TaskStatusError   TaskStatus = "error"   // Non-zero exit or launch failure
	TaskStatusStopped TaskStatus = "stopped" // Cancelled before or during execution
	TaskStatusSkipped TaskStatus = "skipped" // Cascade-skipped by an ancestor
)

// Valid returns true if this is a recognized status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusDone,
		TaskStatusError, TaskStatusStopped, TaskStatusSkipped:
		return true
	}
	return false
}

// IsTerminal returns true if no further transitions can occur.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusError, TaskStatusStopped, TaskStatusSkipped:
		return true
	}
	return false
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return target == TaskStatusRunning || target == TaskStatusStopped || target == TaskStatusSkipped
	case TaskStatusRunning:
		return target == TaskStatusDone || target == TaskStatusError || target == TaskStatusStopped
	}
	return false
}

// DefaultResultName is the result file name used when a task declares none.
func DefaultResultName(name string) string {
	return name + ".txt"
}

// Task is one node of the workflow tree.
//
// Definition fields (Name, Command, Description, Result, WaitAll, Tasks) come from the
// workflow file. Execution fields are stamped by workflow.Prepare and afterwards written
// only by the engine.
type Task struct {
	ID          int    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Command     string `json:"command" yaml:"command"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Result      string `json:"result,omitempty" yaml:"result,omitempty"`
	WaitAll     bool   `json:"wait_all,omitempty" yaml:"wait_all,omitempty"`

	Status     TaskStatus `json:"status" yaml:"status"`
	RunCommand string     `json:"run_command,omitempty" yaml:"run_command,omitempty"`
	PID        int        `json:"pid,omitempty" yaml:"pid,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Stdout     string     `json:"stdout" yaml:"stdout"`
	Error      string     `json:"error" yaml:"error"`
	StartedAt  *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`

	Tasks []*Task `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

// ResultName returns the declared result name or the "{name}.txt" default.
func (t *Task) ResultName() string {
	if t.Result != "" {
		return t.Result
	}
	return DefaultResultName(t.Name)
}

// ResultPath joins the result name onto the output directory.
func (t *Task) ResultPath(outputDir string) string {
	return filepath.Join(outputDir, t.ResultName())
}

// Reset stamps the task as pending with empty execution fields.
func (t *Task) Reset() {
	t.Status = TaskStatusPending
	t.RunCommand = ""
	t.PID = 0
	t.ExitCode = nil
	t.Stdout = ""
	t.Error = ""
	t.StartedAt = nil
	t.FinishedAt = nil
}

// Clone returns a deep copy of the task and its subtree.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.ExitCode != nil {
		code := *t.ExitCode
		cp.ExitCode = &code
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		cp.FinishedAt = &ts
	}
	cp.Tasks = CloneTasks(t.Tasks)
	return &cp
}

// CloneTasks deep-copies a task list.
func CloneTasks(tasks []*Task) []*Task {
	if tasks == nil {
		return nil
	}
	out := make([]*Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// Walk visits every task in pre-order. The parent is nil for root tasks.
// Returning false from fn stops descent into that task's children.
func Walk(tasks []*Task, fn func(task, parent *Task) bool) {
	walk(tasks, nil, fn)
}

func walk(tasks []*Task, parent *Task, fn func(task, parent *Task) bool) {
	for _, t := range tasks {
		if fn(t, parent) {
			walk(t.Tasks, t, fn)
		}
	}
}

// Field returns a task attribute by the names the interactive shell accepts.
func (t *Task) Field(field, outputDir string) (string, error) {
	switch field {
	case "name":
		return t.Name, nil
	case "status":
		return string(t.Status), nil
	case "stdout":
		return t.Stdout, nil
	case "error":
		return t.Error, nil
	case "pid":
		if t.PID == 0 {
			return "", nil
		}
		return fmt.Sprintf("%d", t.PID), nil
	case "command":
		if t.RunCommand != "" {
			return t.RunCommand, nil
		}
		return t.Command, nil
	case "description":
		return t.Description, nil
	case "result":
		return t.ResultPath(outputDir), nil
	}
	return "", fmt.Errorf("unknown field %q", field)
}
