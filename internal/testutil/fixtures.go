package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/justakazh/ewe/internal/config"
	"github.com/justakazh/ewe/internal/types"
)

// NewTestConfig returns a config with short intervals suited to tests.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.PollInterval = 20 * time.Millisecond
	cfg.Engine.KillGrace = 200 * time.Millisecond
	cfg.Output.LogDir = "logs"
	return cfg
}

// Task builds a task node.
func Task(name, command string, children ...*types.Task) *types.Task {
	return &types.Task{Name: name, Command: command, Tasks: children}
}

// WaitAll builds a task node gated on its reference level.
func WaitAll(name, command string, children ...*types.Task) *types.Task {
	task := Task(name, command, children...)
	task.WaitAll = true
	return task
}

// Workflow builds a workflow from root tasks.
func Workflow(name string, roots ...*types.Task) *types.Workflow {
	return &types.Workflow{Name: name, Tasks: roots}
}

// ScenarioWorkflow is two roots, A succeeding with child C and B failing
// with child D.
func ScenarioWorkflow() *types.Workflow {
	return Workflow("scenario",
		Task("A", "exit 0", Task("C", "exit 0")),
		Task("B", "exit 1", Task("D", "exit 0")),
	)
}

// ReconJSON is a small recon workflow in JSON form.
const ReconJSON = `{
  "name": "recon",
  "tasks": [
    {
      "name": "subdomains",
      "command": "echo {target} > {result}",
      "result": "subs.txt",
      "tasks": [
        {"name": "livehosts", "command": "cat {parent_result} > {result}"},
        {"name": "report", "command": "ls {output_path}", "wait_all": true}
      ]
    },
    {"name": "whois", "command": "echo whois {target}"}
  ]
}`

// WriteWorkflow writes a workflow file into a temp dir and returns its path.
func WriteWorkflow(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	RequireFile(t, path, content)
	return path
}
