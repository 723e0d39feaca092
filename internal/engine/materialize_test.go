package engine

import (
	"testing"

	"github.com/justakazh/ewe/internal/types"
)

func TestMaterialize(t *testing.T) {
	ctx := Context{Target: "example.com", OutputDir: "/out", Mode: ModeCascadeSkip}
	parent := &types.Task{Name: "subdomains", Result: "subs.txt"}

	tests := []struct {
		name     string
		task     *types.Task
		parent   *types.Task
		expected string
	}{
		{
			name:     "scan round trip",
			task:     &types.Task{Name: "portscan", Command: "scan {target} -o {result}"},
			expected: "scan example.com -o /out/portscan.txt",
		},
		{
			name:     "custom result name",
			task:     &types.Task{Name: "livehosts", Command: "httpx -o {result}", Result: "live.txt"},
			expected: "httpx -o /out/live.txt",
		},
		{
			name:     "parent tokens",
			task:     &types.Task{Name: "livehosts", Command: "httpx -l {parent_result} --tag {parent_name}/{name}"},
			parent:   parent,
			expected: "httpx -l /out/subs.txt --tag subdomains/livehosts",
		},
		{
			name:     "parent tokens without parent",
			task:     &types.Task{Name: "root", Command: "echo [{parent_name}] [{parent_result}]"},
			expected: "echo [] []",
		},
		{
			name:     "output path and repeats",
			task:     &types.Task{Name: "ls", Command: "ls {output_path} {output_path}"},
			expected: "ls /out /out",
		},
		{
			name:     "unknown tokens untouched",
			task:     &types.Task{Name: "x", Command: "echo {unknown} {TARGET} {target"},
			expected: "echo {unknown} {TARGET} {target",
		},
		{
			name:     "no tokens",
			task:     &types.Task{Name: "x", Command: "true"},
			expected: "true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Materialize(tt.task, tt.parent, ctx)
			if got != tt.expected {
				t.Errorf("Materialize() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestMaterialize_NoRecursiveExpansion(t *testing.T) {
	ctx := Context{Target: "{name}", OutputDir: "/out"}
	task := &types.Task{Name: "scan", Command: "run {target}"}

	if got := Materialize(task, nil, ctx); got != "run {name}" {
		t.Errorf("substituted text was expanded again: %q", got)
	}
}

func TestMaterialize_DoesNotMutateTask(t *testing.T) {
	task := &types.Task{Name: "scan", Command: "scan {target}"}
	Materialize(task, nil, Context{Target: "example.com", OutputDir: "/out"})

	if task.Command != "scan {target}" || task.RunCommand != "" || task.Result != "" {
		t.Errorf("task was mutated: %+v", task)
	}
}
