package engine

import (
	"log/slog"
	"sync"
	"time"

	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/types"
)

// node wraps a task with its position in the tree. Nodes are built once
// before the run and never change shape.
type node struct {
	task     *types.Task
	parent   *node
	children []*node
}

// State owns the live task tree. One mutex guards every task mutation
// together with the notification it triggers, so sinks and readers never
// observe a torn tree.
type State struct {
	mu    sync.Mutex
	run   *types.RunLog
	roots []*node
	nodes []*node // indexed by task ID
	sinks []Sink

	// closed is set by Cancel under mu; begin refuses to start tasks once it is.
	closed bool

	logger *slog.Logger
	now    func() time.Time
}

func newState(run *types.RunLog, sinks []Sink, logger *slog.Logger) *State {
	s := &State{
		run:    run,
		sinks:  sinks,
		logger: logger,
		now:    time.Now,
	}
	s.roots = s.build(run.Tasks, nil)
	return s
}

func (s *State) build(tasks []*types.Task, parent *node) []*node {
	out := make([]*node, 0, len(tasks))
	for _, t := range tasks {
		n := &node{task: t, parent: parent}
		for len(s.nodes) <= t.ID {
			s.nodes = append(s.nodes, nil)
		}
		s.nodes[t.ID] = n
		n.children = s.build(t.Tasks, n)
		out = append(out, n)
	}
	return out
}

// scope returns the wait_all reference scope of n: the siblings of its
// parent. Root tasks have no scope.
func (s *State) scope(n *node) []*node {
	if n.parent == nil {
		return nil
	}
	if n.parent.parent == nil {
		return s.roots
	}
	return n.parent.parent.children
}

// notifyLocked delivers a snapshot to every sink. Callers hold s.mu.
func (s *State) notifyLocked() {
	if len(s.sinks) == 0 {
		return
	}
	snap := s.run.Clone()
	for _, sink := range s.sinks {
		sink.Notify(snap)
	}
}

// transitionLocked applies a status change if the state machine allows it.
func (s *State) transitionLocked(n *node, to types.TaskStatus) bool {
	from := n.task.Status
	if !from.CanTransitionTo(to) {
		s.logger.Error("rejected status change",
			"error", ewerrors.TaskInvalidTransition(n.task.Name, string(from), string(to)),
			"task_id", n.task.ID)
		return false
	}
	n.task.Status = to
	return true
}

func (s *State) start(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Status = types.RunStatusRunning
	s.run.StartedAt = s.now()
	s.run.OrchestratorPID = pid
	s.notifyLocked()
}

func (s *State) complete(status types.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.run.Status = status
	s.run.DoneAt = &now
	s.notifyLocked()
}

// close stops begin from starting any further task. Once close returns,
// every later begin sees it.
func (s *State) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// begin moves n to running with its materialized command. The check against
// close and the transition share one critical section: if the run is already
// cancelled, n becomes stopped instead and begin returns false.
func (s *State) begin(n *node, command string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.closed {
		if s.transitionLocked(n, types.TaskStatusStopped) {
			n.task.FinishedAt = &now
			s.notifyLocked()
		}
		return false
	}
	if !s.transitionLocked(n, types.TaskStatusRunning) {
		return false
	}
	n.task.RunCommand = command
	n.task.StartedAt = &now
	s.notifyLocked()
	return true
}

func (s *State) setPID(n *node, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.task.PID = pid
	s.notifyLocked()
}

// finish records the outcome of a running task.
func (s *State) finish(n *node, status types.TaskStatus, res Result, captureStdout bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transitionLocked(n, status) {
		return
	}
	now := s.now()
	n.task.FinishedAt = &now
	if res.PID != 0 {
		n.task.PID = res.PID
	}
	if res.ExitCode >= 0 && res.Err == nil {
		code := res.ExitCode
		n.task.ExitCode = &code
	}
	if captureStdout {
		n.task.Stdout = res.Stdout
	}
	if res.Err != nil && !res.Cancelled {
		n.task.Error = res.Err.Error()
	} else {
		n.task.Error = res.Stderr
	}
	s.notifyLocked()
}

// stop marks a task that never started as stopped.
func (s *State) stop(n *node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionLocked(n, types.TaskStatusStopped) {
		now := s.now()
		n.task.FinishedAt = &now
		s.notifyLocked()
	}
}

// skipSubtree marks every pending descendant of n skipped and clears its
// result fields. It runs on n's goroutine before any child is dispatched, so
// only pending tasks are ever touched; anything else is left alone.
func (s *State) skipSubtree(n *node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var skip func(nodes []*node)
	skip = func(nodes []*node) {
		for _, c := range nodes {
			if c.task.Status == types.TaskStatusPending {
				c.task.Status = types.TaskStatusSkipped
				c.task.Stdout = ""
				c.task.Error = ""
				c.task.PID = 0
				c.task.FinishedAt = &now
			} else {
				s.logger.Error("cascade skip found a started task", "task_id", c.task.ID, "status", c.task.Status)
			}
			skip(c.children)
		}
	}
	skip(n.children)
	s.notifyLocked()
}

// allTerminal reports whether every node in the list is terminal.
func (s *State) allTerminal(nodes []*node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if !n.task.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Snapshot returns a deep copy of the run.
func (s *State) Snapshot() *types.RunLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Clone()
}

// Lookup returns the task at an index path and its children's summaries.
// An empty path addresses the workflow root.
func (s *State) Lookup(path []int) (*types.TaskView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := types.Lookup(s.run.Tasks, path)
	if !ok {
		return nil, ewerrors.TaskNotFound(path)
	}
	return view, nil
}

// LookupByName resolves a path of sibling names (or indices) first.
func (s *State) LookupByName(names []string) (*types.TaskView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := types.ResolveNames(s.run.Tasks, names)
	if !ok {
		return nil, ewerrors.TaskNotFound(names)
	}
	view, ok := types.Lookup(s.run.Tasks, path)
	if !ok {
		return nil, ewerrors.TaskNotFound(names)
	}
	return view, nil
}

// Task returns a copy of the task with the given ID, without children.
func (s *State) Task(id int) (*types.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.nodes) || s.nodes[id] == nil {
		return nil, false
	}
	cp := s.nodes[id].task.Clone()
	cp.Tasks = nil
	return cp, true
}
