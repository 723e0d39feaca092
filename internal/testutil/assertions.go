package testutil

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/justakazh/ewe/internal/types"
)

// AssertEqual asserts that two values are deeply equal.
func AssertEqual(t *testing.T, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Errorf("%s\nExpected: %v\nActual: %v", formatMessage("values differ", msgAndArgs...), expected, actual)
	}
}

// AssertNoError asserts that err is nil.
func AssertNoError(t *testing.T, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		t.Errorf("%s\nError: %v", formatMessage("unexpected error", msgAndArgs...), err)
	}
}

// AssertErrorContains asserts that err is non-nil and mentions substring.
func AssertErrorContains(t *testing.T, err error, substring string) {
	t.Helper()
	if err == nil {
		t.Errorf("expected an error containing %q, got nil", substring)
		return
	}
	if !strings.Contains(err.Error(), substring) {
		t.Errorf("expected error to contain %q, got %v", substring, err)
	}
}

// AssertContains asserts that s contains substring.
func AssertContains(t *testing.T, s, substring string) {
	t.Helper()
	if !strings.Contains(s, substring) {
		t.Errorf("expected %q to contain %q", s, substring)
	}
}

// AssertFileExists asserts that path exists.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file %s to exist: %v", path, err)
	}
}

// RequireNoError is like AssertNoError but stops the test.
func RequireNoError(t *testing.T, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s\nError: %v", formatMessage("unexpected error", msgAndArgs...), err)
	}
}

// RequireFile writes content to path, creating parent directories.
func RequireFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(parentDir(path), 0755); err != nil {
		t.Fatalf("create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// FindTask returns the first task with the given name anywhere in the tree.
func FindTask(tasks []*types.Task, name string) *types.Task {
	var found *types.Task
	types.Walk(tasks, func(task, _ *types.Task) bool {
		if found == nil && task.Name == name {
			found = task
		}
		return found == nil
	})
	return found
}

// AssertTaskStatus asserts the status of the named task.
func AssertTaskStatus(t *testing.T, run *types.RunLog, name string, expected types.TaskStatus) {
	t.Helper()
	task := FindTask(run.Tasks, name)
	if task == nil {
		t.Errorf("task %q not found", name)
		return
	}
	if task.Status != expected {
		t.Errorf("task %q: expected status %s, got %s (error: %q)", name, expected, task.Status, task.Error)
	}
}

// AssertAllTerminal asserts that no task is left pending or running.
func AssertAllTerminal(t *testing.T, run *types.RunLog) {
	t.Helper()
	types.Walk(run.Tasks, func(task, _ *types.Task) bool {
		if !task.Status.IsTerminal() {
			t.Errorf("task %q (id %d) ended %s", task.Name, task.ID, task.Status)
		}
		return true
	})
}

// AssertNeverStarted asserts the named task was never launched.
func AssertNeverStarted(t *testing.T, run *types.RunLog, name string) {
	t.Helper()
	task := FindTask(run.Tasks, name)
	if task == nil {
		t.Errorf("task %q not found", name)
		return
	}
	if task.StartedAt != nil || task.RunCommand != "" || task.PID != 0 {
		t.Errorf("task %q was started: started_at=%v command=%q pid=%d", name, task.StartedAt, task.RunCommand, task.PID)
	}
}

// AssertStartedAfter asserts that the named task started strictly after
// each of the others finished.
func AssertStartedAfter(t *testing.T, run *types.RunLog, name string, others ...string) {
	t.Helper()
	task := FindTask(run.Tasks, name)
	if task == nil || task.StartedAt == nil {
		t.Errorf("task %q did not start", name)
		return
	}
	for _, other := range others {
		o := FindTask(run.Tasks, other)
		if o == nil || o.FinishedAt == nil {
			t.Errorf("task %q has no finish time", other)
			continue
		}
		if !task.StartedAt.After(*o.FinishedAt) {
			t.Errorf("task %q started at %s, not after %q finished at %s",
				name, task.StartedAt.Format(time.RFC3339Nano), other, o.FinishedAt.Format(time.RFC3339Nano))
		}
	}
}

func formatMessage(defaultMsg string, msgAndArgs ...any) string {
	if len(msgAndArgs) == 0 {
		return defaultMsg
	}
	if s, ok := msgAndArgs[0].(string); ok {
		return s
	}
	return defaultMsg
}

func parentDir(path string) string {
	if i := strings.LastIndex(path, "/"); i > 0 {
		return path[:i]
	}
	return "."
}
