package cli

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/status"
	"github.com/justakazh/ewe/internal/types"
)

// treeQuery serves lookups from a fixed tree.
type treeQuery struct {
	roots     []*types.Task
	cancelled int
	done      chan struct{}
}

func (q *treeQuery) Lookup(path []int) (*types.TaskView, error) {
	view, ok := types.Lookup(q.roots, path)
	if !ok {
		return nil, ewerrors.TaskNotFound(path)
	}
	return view, nil
}

func (q *treeQuery) Cancel() {
	q.cancelled++
	if q.cancelled == 1 {
		close(q.done)
	}
}

func (q *treeQuery) Done() <-chan struct{} { return q.done }

func newQuery() *treeQuery {
	return &treeQuery{done: make(chan struct{}), roots: []*types.Task{
		{ID: 0, Name: "subdomains", Status: types.TaskStatusDone, Stdout: "a.example.com", Result: "subs.txt", Tasks: []*types.Task{
			{ID: 1, Name: "livehosts", Status: types.TaskStatusRunning, PID: 4242, Command: "httpx -l {parent_result}", RunCommand: "httpx -l /out/subs.txt"},
		}},
		{ID: 2, Name: "whois", Status: types.TaskStatusError, Error: "lookup failed"},
	}}
}

func runShell(t *testing.T, q *treeQuery, input string) string {
	t.Helper()
	var out bytes.Buffer
	sh := NewShell(strings.NewReader(input), &out, q, "/out", status.FormatOptions{NoColor: true})
	if err := sh.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out.String()
}

func TestShell_Navigation(t *testing.T) {
	q := newQuery()
	out := runShell(t, q, "go 0\nshow\nback\nback\n")

	for _, want := range []string{
		"Interactive CLI",
		"/ > ",
		"/subdomains > ",
		"livehosts",
		"running",
		"[!] Already at root.",
		"[!] Exiting interactive mode.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if q.cancelled != 0 {
		t.Error("end of input must not cancel the run")
	}
}

func TestShell_Get(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"stdout", "get stdout 0", "a.example.com"},
		{"error", "get error 1", "lookup failed"},
		{"status", "get status 1", "error"},
		{"result", "get result 0", "/out/subs.txt"},
		{"nested command", "go 0\nget command 0", "httpx -l /out/subs.txt"},
		{"nested pid", "go 0\nget pid 0", "4242"},
		{"bad index", "get stdout 9", "[!] Invalid command."},
		{"missing index", "get stdout", "[!] Invalid command."},
		{"bad field", "get secret 0", "[!] Invalid command."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := runShell(t, newQuery(), tt.input+"\n")
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output:\n%s", tt.want, out)
			}
		})
	}
}

func TestShell_Errors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"go 5", "[!] Invalid index."},
		{"go x", "[!] Invalid index."},
		{"go", "[!] Invalid index."},
		{"go 1\nshow", "[!] No subtasks."},
		{"dance", "[!] Unknown command: dance"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			out := runShell(t, newQuery(), tt.input+"\n")
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output:\n%s", tt.want, out)
			}
		})
	}
}

func TestShell_ExitCancels(t *testing.T) {
	q := newQuery()
	out := runShell(t, q, "exit\nshow\n")

	if q.cancelled != 1 {
		t.Errorf("expected one cancel, got %d", q.cancelled)
	}
	if strings.Contains(out, "Child Task") {
		t.Error("commands after exit should not run")
	}
}

func TestShell_HelpAndClear(t *testing.T) {
	out := runShell(t, newQuery(), "help\nclear\n\n")
	if !strings.Contains(out, "get <field> <index>") {
		t.Errorf("help text missing:\n%s", out)
	}
	if !strings.Contains(out, "exit interactive mode\n/ > ") {
		t.Errorf("help should end with one newline before the prompt:\n%q", out)
	}
	if !strings.Contains(out, status.ClearScreen) {
		t.Error("clear should write the clear-screen sequence")
	}
}

func TestShell_EndsWhenRunCancelled(t *testing.T) {
	q := newQuery()
	in, w := io.Pipe()
	defer w.Close()

	var out safeBuffer
	sh := NewShell(in, &out, q, "/out", status.FormatOptions{NoColor: true})
	errc := make(chan error, 1)
	go func() { errc <- sh.Run() }()

	// Stdin stays open; only the run going away may end the shell.
	close(q.done)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shell kept waiting for input after the run was cancelled")
	}
	if !strings.Contains(out.String(), "[!] Run stopped, exiting interactive mode.") {
		t.Errorf("expected a stop notice in output:\n%s", out.String())
	}
}

// safeBuffer is a bytes.Buffer safe for one writer and a concurrent reader.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"y", false, true},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got, err := Confirm(strings.NewReader(tt.input), &out, "Stop run?", tt.defaultYes)
		if err != nil {
			t.Fatalf("Confirm(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q, %v) = %v, want %v", tt.input, tt.defaultYes, got, tt.want)
		}
		if !strings.Contains(out.String(), "Stop run?") {
			t.Errorf("prompt not written: %q", out.String())
		}
	}
}
