package status

import (
	"strings"
	"time"

	"github.com/justakazh/ewe/internal/types"
)

// RunSummary contains computed information about a run for display.
type RunSummary struct {
	RunID     string             `json:"run_id"`
	Workflow  string             `json:"workflow"`
	Target    string             `json:"target"`
	Output    string             `json:"output"`
	Status    types.RunStatus    `json:"status"`
	Live      bool               `json:"live"`
	StartedAt time.Time          `json:"started_at"`
	DoneAt    *time.Time         `json:"done_at,omitempty"`
	Counts    types.StatusCounts `json:"counts"`
	Running   []TaskRef          `json:"running,omitempty"`
	Failed    []TaskRef          `json:"failed,omitempty"`
}

// TaskRef points at one task by its slash-separated name path.
type TaskRef struct {
	ID     int              `json:"id"`
	Path   string           `json:"path"`
	Status types.TaskStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// NewRunSummary creates a summary from a run snapshot.
func NewRunSummary(run *types.RunLog, live bool) *RunSummary {
	summary := &RunSummary{
		RunID:     run.RunID,
		Workflow:  run.Workflow,
		Target:    run.Target,
		Output:    run.Output,
		Status:    run.Status,
		Live:      live,
		StartedAt: run.StartedAt,
		DoneAt:    run.DoneAt,
		Counts:    types.Count(run.Tasks),
	}
	collect(run.Tasks, nil, summary)
	return summary
}

func collect(tasks []*types.Task, parents []string, summary *RunSummary) {
	for _, task := range tasks {
		names := append(append([]string{}, parents...), task.Name)
		ref := TaskRef{ID: task.ID, Path: "/" + strings.Join(names, "/"), Status: task.Status}
		switch task.Status {
		case types.TaskStatusRunning:
			summary.Running = append(summary.Running, ref)
		case types.TaskStatusError:
			ref.Error = task.Error
			summary.Failed = append(summary.Failed, ref)
		}
		collect(task.Tasks, names, summary)
	}
}

// HasErrors reports whether any task ended in error.
func (s *RunSummary) HasErrors() bool {
	return s.Counts.Error > 0
}
