package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/logging"
	"github.com/justakazh/ewe/internal/types"
	"github.com/justakazh/ewe/internal/workflow"
)

// ErrAlreadyRun is returned when Run is called a second time.
var ErrAlreadyRun = errors.New("engine has already run")

// Options configures an Engine.
type Options struct {
	Context Context

	// Runner executes commands. Defaults to a ShellRunner with no cap.
	Runner Runner

	// PollInterval is the wait_all recheck period. Defaults to 500ms.
	PollInterval time.Duration

	// KillGrace is the delay between SIGTERM and SIGKILL on cancel.
	KillGrace time.Duration

	Sinks  []Sink
	RunID  string
	Logger *slog.Logger
}

// Engine runs one workflow tree. It is single-use.
type Engine struct {
	ctx          Context
	runner       Runner
	ctrl         *Controller
	state        *State
	pollInterval time.Duration
	logger       *slog.Logger

	started atomic.Bool
}

// New validates the workflow and prepares a private copy of its tree for
// execution. The caller's workflow is never mutated.
func New(wf *types.Workflow, opts Options) (*Engine, error) {
	if err := opts.Context.Validate(); err != nil {
		return nil, err
	}
	if result := workflow.Validate(wf); result.HasErrors() {
		return nil, result.Err()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := opts.RunID
	if runID == "" {
		runID = GenerateRunID()
	}
	logger = logging.WithRun(logger, runID).With("component", "engine")

	runner := opts.Runner
	if runner == nil {
		runner = NewShellRunner("", nil, 0, logger)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	tree := &types.Workflow{
		Name:        wf.Name,
		Description: wf.Description,
		Tasks:       types.CloneTasks(wf.Tasks),
	}
	workflow.Prepare(tree)

	run := &types.RunLog{
		RunID:    runID,
		Workflow: wf.Name,
		Target:   opts.Context.Target,
		Output:   opts.Context.OutputDir,
		Status:   types.RunStatusRunning,
		Tasks:    tree.Tasks,
	}

	return &Engine{
		ctx:          opts.Context,
		runner:       runner,
		ctrl:         NewController(opts.KillGrace, logger),
		state:        newState(run, opts.Sinks, logger),
		pollInterval: poll,
		logger:       logger,
	}, nil
}

// Run executes the whole tree and returns the final state. It returns when
// every task is terminal. Cancelling ctx is the same as calling Cancel.
func (e *Engine) Run(ctx context.Context) (*types.RunLog, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	stop := context.AfterFunc(ctx, func() { e.Cancel() })
	defer stop()

	e.state.start(os.Getpid())
	e.logger.Info("run started", "target", e.ctx.Target, "output", e.ctx.OutputDir, "mode", e.ctx.Mode)

	e.runLevel(e.state.roots)

	status := types.RunStatusDone
	if e.ctrl.Cancelled() {
		status = types.RunStatusStopped
	}
	e.state.complete(status)

	final := e.state.Snapshot()
	counts := types.Count(final.Tasks)
	e.logger.Info("run finished",
		"status", status,
		"done", counts.Done,
		"error", counts.Error,
		"stopped", counts.Stopped,
		"skipped", counts.Skipped)
	return final, nil
}

// runLevel dispatches every node concurrently and joins on all of them.
func (e *Engine) runLevel(nodes []*node) {
	var g errgroup.Group
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			e.dispatch(n)
			return nil
		})
	}
	_ = g.Wait()
}

// dispatch runs one task and then its subtree.
func (e *Engine) dispatch(n *node) {
	if n.task.WaitAll {
		if scope := e.state.scope(n); scope != nil && !e.awaitLevel(scope) {
			e.state.stop(n)
			e.descend(n, types.TaskStatusStopped)
			return
		}
	}
	e.descend(n, e.execute(n))
}

// execute takes the task from pending to a terminal status.
func (e *Engine) execute(n *node) types.TaskStatus {
	var parent *types.Task
	if n.parent != nil {
		parent = n.parent.task
	}
	command := Materialize(n.task, parent, e.ctx)

	if !e.state.begin(n, command) {
		return types.TaskStatusStopped
	}

	logger := logging.WithTask(e.logger, n.task.ID, n.task.Name)
	logger.Debug("task started", "command", command)

	res := e.runner.Run(e.ctrl.Context(), RunRequest{
		Command:       command,
		CaptureStdout: e.ctx.CaptureStdout,
		Registry:      e.ctrl,
		OnStart:       func(pid int) { e.state.setPID(n, pid) },
	})

	status := classify(res, e.ctrl.Cancelled())
	e.state.finish(n, status, res, e.ctx.CaptureStdout)

	switch {
	case status == types.TaskStatusError && res.Err != nil:
		logger.Warn("task failed", "error", res.Err)
	case status == types.TaskStatusError:
		logger.Warn("task failed", "error", ewerrors.TaskNonZeroExit(n.task.Name, res.ExitCode))
	default:
		logger.Info("task finished", "status", status, "exit_code", res.ExitCode)
	}
	return status
}

// descend applies the error mode to n's children once n's outcome is fixed.
// Cascade skip happens here, on n's goroutine, before any child could start.
func (e *Engine) descend(n *node, outcome types.TaskStatus) {
	if len(n.children) == 0 {
		return
	}
	if e.ctx.Mode == ModeCascadeSkip && outcome != types.TaskStatusDone {
		e.state.skipSubtree(n)
		return
	}
	e.runLevel(n.children)
}

func classify(res Result, cancelled bool) types.TaskStatus {
	switch {
	case res.Cancelled || cancelled:
		return types.TaskStatusStopped
	case res.Err != nil:
		return types.TaskStatusError
	case res.ExitCode == 0:
		return types.TaskStatusDone
	default:
		return types.TaskStatusError
	}
}

// Cancel stops the run: no new task starts and live processes are
// terminated. It is safe to call from any goroutine, any number of times,
// except from a Sink. No task moves to running after Cancel returns.
func (e *Engine) Cancel() {
	e.state.close()
	if e.ctrl.Cancel() {
		e.logger.Warn("run cancelled")
	}
}

// Cancelled reports whether Cancel has been called.
func (e *Engine) Cancelled() bool {
	return e.ctrl.Cancelled()
}

// Done is closed once the run is cancelled.
func (e *Engine) Done() <-chan struct{} {
	return e.ctrl.Done()
}

// Snapshot returns a consistent deep copy of the current run state.
func (e *Engine) Snapshot() *types.RunLog {
	return e.state.Snapshot()
}

// Lookup returns the task at an index path with its children's summaries.
func (e *Engine) Lookup(path []int) (*types.TaskView, error) {
	return e.state.Lookup(path)
}

// LookupByName is Lookup with sibling names instead of indices.
func (e *Engine) LookupByName(names []string) (*types.TaskView, error) {
	return e.state.LookupByName(names)
}

// Task returns a copy of the task with the given ID.
func (e *Engine) Task(id int) (*types.Task, bool) {
	return e.state.Task(id)
}

// RunID returns the run identifier.
func (e *Engine) RunID() string {
	return e.state.run.RunID
}
