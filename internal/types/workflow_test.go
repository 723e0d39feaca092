package types

import (
	"testing"
)

func sampleTree() []*Task {
	return []*Task{
		{ID: 0, Name: "A", Status: TaskStatusDone, Tasks: []*Task{
			{ID: 1, Name: "C", Status: TaskStatusRunning},
		}},
		{ID: 2, Name: "B", Status: TaskStatusError, Tasks: []*Task{
			{ID: 3, Name: "D", Status: TaskStatusSkipped, Tasks: []*Task{
				{ID: 4, Name: "E", Status: TaskStatusSkipped},
			}},
		}},
	}
}

func TestRunStatus(t *testing.T) {
	if !RunStatusDone.IsTerminal() {
		t.Error("done should be terminal")
	}
	if !RunStatusStopped.IsTerminal() {
		t.Error("stopped should be terminal")
	}
	if RunStatusRunning.IsTerminal() {
		t.Error("running should not be terminal")
	}
}

func TestCount(t *testing.T) {
	c := Count(sampleTree())
	if c.Total != 5 {
		t.Errorf("Total = %d, want 5", c.Total)
	}
	if c.Done != 1 || c.Running != 1 || c.Error != 1 || c.Skipped != 2 {
		t.Errorf("unexpected counts: %+v", c)
	}
	if c.Terminal() != 4 {
		t.Errorf("Terminal() = %d, want 4", c.Terminal())
	}
}

func TestLookup(t *testing.T) {
	roots := sampleTree()

	t.Run("empty path returns root level", func(t *testing.T) {
		view, ok := Lookup(roots, nil)
		if !ok {
			t.Fatal("expected lookup to succeed")
		}
		if view.Task != nil {
			t.Error("root view should have no task")
		}
		if len(view.Children) != 2 {
			t.Fatalf("got %d children, want 2", len(view.Children))
		}
		if view.Children[1].Name != "B" || view.Children[1].ChildCount != 1 {
			t.Errorf("unexpected child summary: %+v", view.Children[1])
		}
	})

	t.Run("nested path", func(t *testing.T) {
		view, ok := Lookup(roots, []int{1, 0})
		if !ok {
			t.Fatal("expected lookup to succeed")
		}
		if view.Task.Name != "D" {
			t.Errorf("Task.Name = %s, want D", view.Task.Name)
		}
		if len(view.Names) != 2 || view.Names[0] != "B" || view.Names[1] != "D" {
			t.Errorf("Names = %v, want [B D]", view.Names)
		}
		if len(view.Children) != 1 || view.Children[0].Status != TaskStatusSkipped {
			t.Errorf("unexpected children: %+v", view.Children)
		}
		if view.Task.Tasks != nil {
			t.Error("view task should not carry its subtree")
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if _, ok := Lookup(roots, []int{5}); ok {
			t.Error("expected lookup to fail")
		}
		if _, ok := Lookup(roots, []int{0, 0, 0}); ok {
			t.Error("expected lookup past a leaf to fail")
		}
	})

	t.Run("view is detached from the tree", func(t *testing.T) {
		view, _ := Lookup(roots, []int{0})
		view.Task.Status = TaskStatusError
		if roots[0].Status != TaskStatusDone {
			t.Error("mutating the view changed the tree")
		}
	})
}

func TestResolveNames(t *testing.T) {
	roots := sampleTree()

	tests := []struct {
		name  string
		names []string
		want  []int
		ok    bool
	}{
		{"by name", []string{"B", "D", "E"}, []int{1, 0, 0}, true},
		{"numeric fallback", []string{"1", "0"}, []int{1, 0}, true},
		{"unknown", []string{"Z"}, nil, false},
		{"numeric out of range", []string{"7"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveNames(roots, tt.names)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestRunLogClone(t *testing.T) {
	r := &RunLog{RunID: "run-1", Tasks: sampleTree()}
	cp := r.Clone()
	cp.Tasks[1].Tasks[0].Status = TaskStatusDone
	if r.Tasks[1].Tasks[0].Status != TaskStatusSkipped {
		t.Error("clone shares task nodes with the original")
	}
}
