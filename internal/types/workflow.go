package types

import (
	"strconv"
	"time"
)

// Workflow is the root container: a label and the ordered root tasks.
type Workflow struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Tasks       []*Task `json:"tasks" yaml:"tasks"`
}

// RunStatus is the overall state of a run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusStopped RunStatus = "stopped"
)

// IsTerminal returns true once the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusDone || s == RunStatusStopped
}

// RunLog is the serializable state of one run. It is what state sinks receive
// and what the run log file contains.
type RunLog struct {
	RunID           string     `json:"run_id" yaml:"run_id"`
	Workflow        string     `json:"workflow" yaml:"workflow"`
	Target          string     `json:"target" yaml:"target"`
	Output          string     `json:"output" yaml:"output"`
	OrchestratorPID int        `json:"orchestrator_pid,omitempty" yaml:"orchestrator_pid,omitempty"`
	Status          RunStatus  `json:"status" yaml:"status"`
	StartedAt       time.Time  `json:"started_at" yaml:"started_at"`
	DoneAt          *time.Time `json:"done_at,omitempty" yaml:"done_at,omitempty"`
	Tasks           []*Task    `json:"tasks" yaml:"tasks"`
}

// Clone returns a deep copy of the run log.
func (r *RunLog) Clone() *RunLog {
	if r == nil {
		return nil
	}
	cp := *r
	if r.DoneAt != nil {
		ts := *r.DoneAt
		cp.DoneAt = &ts
	}
	cp.Tasks = CloneTasks(r.Tasks)
	return &cp
}

// StatusCounts tallies tasks by status across the whole tree.
type StatusCounts struct {
	Total   int
	Pending int
	Running int
	Done    int
	Error   int
	Stopped int
	Skipped int
}

// Terminal returns the number of tasks in a terminal status.
func (c StatusCounts) Terminal() int {
	return c.Done + c.Error + c.Stopped + c.Skipped
}

// Count tallies the statuses of every task in the tree.
func Count(tasks []*Task) StatusCounts {
	var c StatusCounts
	Walk(tasks, func(t, _ *Task) bool {
		c.Total++
		switch t.Status {
		case TaskStatusPending:
			c.Pending++
		case TaskStatusRunning:
			c.Running++
		case TaskStatusDone:
			c.Done++
		case TaskStatusError:
			c.Error++
		case TaskStatusStopped:
			c.Stopped++
		case TaskStatusSkipped:
			c.Skipped++
		}
		return true
	})
	return c
}

// TaskSummary is the one-line view of a child task returned by path lookups.
type TaskSummary struct {
	Index      int        `json:"index"`
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	Status     TaskStatus `json:"status"`
	ChildCount int        `json:"child_count"`
}

// TaskView is the answer to a state query: the task at a path and its children.
// Task is nil when the path is empty (the workflow root).
type TaskView struct {
	Path     []int         `json:"path"`
	Names    []string      `json:"names"`
	Task     *Task         `json:"task,omitempty"`
	Children []TaskSummary `json:"children"`
}

// Summarize builds child summaries for a task list.
func Summarize(tasks []*Task) []TaskSummary {
	out := make([]TaskSummary, len(tasks))
	for i, t := range tasks {
		out[i] = TaskSummary{
			Index:      i,
			ID:         t.ID,
			Name:       t.Name,
			Status:     t.Status,
			ChildCount: len(t.Tasks),
		}
	}
	return out
}

// Lookup resolves an index path from the root list. The returned view holds
// copies, so it stays valid after the tree changes.
func Lookup(roots []*Task, path []int) (*TaskView, bool) {
	view := &TaskView{Path: append([]int{}, path...), Names: []string{}}
	level := roots
	var current *Task
	for _, idx := range path {
		if idx < 0 || idx >= len(level) {
			return nil, false
		}
		current = level[idx]
		view.Names = append(view.Names, current.Name)
		level = current.Tasks
	}
	if current != nil {
		cp := current.Clone()
		cp.Tasks = nil
		view.Task = cp
	}
	view.Children = Summarize(level)
	return view, true
}

// ResolveNames converts a path of sibling names into indices. Purely numeric
// elements that match no sibling name are treated as indices.
func ResolveNames(roots []*Task, names []string) ([]int, bool) {
	path := make([]int, 0, len(names))
	level := roots
	for _, name := range names {
		idx := -1
		for i, t := range level {
			if t.Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			n, err := strconv.Atoi(name)
			if err != nil || n < 0 || n >= len(level) {
				return nil, false
			}
			idx = n
		}
		path = append(path, idx)
		level = level[idx].Tasks
	}
	return path, true
}
