package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/testutil"
	"github.com/justakazh/ewe/internal/types"
)

// recordingRunner completes commands instantly and records what it launched.
type recordingRunner struct {
	mu       sync.Mutex
	commands []string
	exit     map[string]int
}

func (r *recordingRunner) Run(_ context.Context, req RunRequest) Result {
	r.mu.Lock()
	r.commands = append(r.commands, req.Command)
	pid := 1000 + len(r.commands)
	r.mu.Unlock()

	if req.OnStart != nil {
		req.OnStart(pid)
	}
	return Result{PID: pid, ExitCode: r.exit[req.Command], Stdout: "out:" + req.Command}
}

func (r *recordingRunner) launched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func newTestEngine(t *testing.T, wf *types.Workflow, mode ErrorMode, opts ...func(*Options)) *Engine {
	t.Helper()
	o := Options{
		Context:      Context{Target: "example.com", OutputDir: t.TempDir(), Mode: mode, CaptureStdout: true},
		PollInterval: 10 * time.Millisecond,
		KillGrace:    500 * time.Millisecond,
		Logger:       testutil.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	e, err := New(wf, o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func runEngine(t *testing.T, e *Engine) *types.RunLog {
	t.Helper()
	run, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return run
}

func TestRun_CascadeScenario(t *testing.T) {
	e := newTestEngine(t, testutil.ScenarioWorkflow(), ModeCascadeSkip)
	run := runEngine(t, e)

	testutil.AssertTaskStatus(t, run, "A", types.TaskStatusDone)
	testutil.AssertTaskStatus(t, run, "C", types.TaskStatusDone)
	testutil.AssertTaskStatus(t, run, "B", types.TaskStatusError)
	testutil.AssertTaskStatus(t, run, "D", types.TaskStatusSkipped)
	testutil.AssertNeverStarted(t, run, "D")
	testutil.AssertAllTerminal(t, run)

	if run.Status != types.RunStatusDone {
		t.Errorf("expected run status done, got %s", run.Status)
	}
	if run.DoneAt == nil {
		t.Error("expected done_at to be set")
	}
	b := testutil.FindTask(run.Tasks, "B")
	if b.ExitCode == nil || *b.ExitCode != 1 {
		t.Errorf("expected B exit code 1, got %v", b.ExitCode)
	}
}

func TestRun_CascadeSkipsWholeSubtree(t *testing.T) {
	wf := testutil.Workflow("deep",
		testutil.Task("fail", "exit 2",
			testutil.Task("child", "true",
				testutil.Task("grandchild", "true"),
				testutil.WaitAll("gated", "true"),
			),
		),
	)
	r := &recordingRunner{exit: map[string]int{"exit 2": 2}}
	e := newTestEngine(t, wf, ModeCascadeSkip, func(o *Options) { o.Runner = r })
	run := runEngine(t, e)

	for _, name := range []string{"child", "grandchild", "gated"} {
		testutil.AssertTaskStatus(t, run, name, types.TaskStatusSkipped)
		testutil.AssertNeverStarted(t, run, name)
	}
	if got := r.launched(); len(got) != 1 {
		t.Errorf("expected only the failing task to launch, got %v", got)
	}
}

func TestRun_IgnoreErrors(t *testing.T) {
	e := newTestEngine(t, testutil.ScenarioWorkflow(), ModeIgnoreErrors)
	run := runEngine(t, e)

	testutil.AssertTaskStatus(t, run, "B", types.TaskStatusError)
	testutil.AssertTaskStatus(t, run, "D", types.TaskStatusDone)
	testutil.AssertAllTerminal(t, run)
}

func TestRun_WaitAllBarrier(t *testing.T) {
	// E's reference level is the root list: it must wait for A and B but
	// not for its sibling C.
	wf := testutil.Workflow("barrier",
		testutil.Task("A", "exit 0",
			testutil.Task("C", "sleep 0.6"),
			testutil.WaitAll("E", "true"),
		),
		testutil.Task("B", "sleep 0.2; exit 1", testutil.Task("D", "true")),
	)
	e := newTestEngine(t, wf, ModeCascadeSkip)
	run := runEngine(t, e)

	testutil.AssertTaskStatus(t, run, "E", types.TaskStatusDone)
	testutil.AssertTaskStatus(t, run, "D", types.TaskStatusSkipped)
	testutil.AssertStartedAfter(t, run, "E", "A", "B")

	c := testutil.FindTask(run.Tasks, "C")
	ev := testutil.FindTask(run.Tasks, "E")
	if !ev.FinishedAt.Before(*c.FinishedAt) {
		t.Errorf("E should not wait for its sibling C: E finished %v, C finished %v", ev.FinishedAt, c.FinishedAt)
	}
}

func TestRun_WaitAllDeepLevel(t *testing.T) {
	wf := testutil.Workflow("deep-barrier",
		testutil.Task("root", "true",
			testutil.Task("fast", "true", testutil.WaitAll("gated", "true")),
			testutil.Task("slow", "sleep 0.3"),
		),
		testutil.Task("other", "sleep 0.5"),
	)
	e := newTestEngine(t, wf, ModeCascadeSkip)
	run := runEngine(t, e)

	testutil.AssertStartedAfter(t, run, "gated", "fast", "slow")

	gated := testutil.FindTask(run.Tasks, "gated")
	other := testutil.FindTask(run.Tasks, "other")
	if !gated.StartedAt.Before(*other.FinishedAt) {
		t.Error("gated task waited on a level outside its reference scope")
	}
}

func TestRun_RootWaitAllHasNoGate(t *testing.T) {
	wf := testutil.Workflow("root-gate",
		testutil.Task("slow", "sleep 0.3"),
		testutil.WaitAll("first", "true"),
	)
	e := newTestEngine(t, wf, ModeCascadeSkip)
	run := runEngine(t, e)

	first := testutil.FindTask(run.Tasks, "first")
	slow := testutil.FindTask(run.Tasks, "slow")
	if !first.StartedAt.Before(*slow.FinishedAt) {
		t.Error("root task with wait_all should start immediately")
	}
}

func TestRun_MaterializedCommandAndStdout(t *testing.T) {
	wf := testutil.Workflow("recon",
		testutil.Task("portscan", "echo scan {target} -o {result}"),
	)
	e := newTestEngine(t, wf, ModeCascadeSkip)
	run := runEngine(t, e)

	task := testutil.FindTask(run.Tasks, "portscan")
	want := "echo scan example.com -o " + run.Output + "/portscan.txt"
	if task.RunCommand != want {
		t.Errorf("expected command %q, got %q", want, task.RunCommand)
	}
	if strings.TrimSpace(task.Stdout) != strings.TrimPrefix(want, "echo ") {
		t.Errorf("unexpected stdout %q", task.Stdout)
	}
	if task.PID <= 0 {
		t.Errorf("expected pid to be recorded, got %d", task.PID)
	}
	if task.StartedAt == nil || task.FinishedAt == nil {
		t.Error("expected timestamps")
	}
}

func TestRun_NoStdoutCapture(t *testing.T) {
	wf := testutil.Workflow("quiet", testutil.Task("echo", "echo hi"))
	e := newTestEngine(t, wf, ModeCascadeSkip, func(o *Options) { o.Context.CaptureStdout = false })
	run := runEngine(t, e)

	if task := testutil.FindTask(run.Tasks, "echo"); task.Stdout != "" {
		t.Errorf("expected no stdout, got %q", task.Stdout)
	}
}

func TestRun_ErrorCarriesStderr(t *testing.T) {
	wf := testutil.Workflow("stderr", testutil.Task("bad", "echo nope >&2; exit 4"))
	e := newTestEngine(t, wf, ModeCascadeSkip)
	run := runEngine(t, e)

	task := testutil.FindTask(run.Tasks, "bad")
	if task.Status != types.TaskStatusError || strings.TrimSpace(task.Error) != "nope" {
		t.Errorf("expected error with stderr, got %s %q", task.Status, task.Error)
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	wf := testutil.Workflow("launch", testutil.Task("parent", "true", testutil.Task("child", "true")))
	e := newTestEngine(t, wf, ModeCascadeSkip, func(o *Options) {
		o.Runner = NewShellRunner("/nonexistent/shell", nil, 0, testutil.DiscardLogger())
	})
	run := runEngine(t, e)

	parent := testutil.FindTask(run.Tasks, "parent")
	if parent.Status != types.TaskStatusError {
		t.Errorf("expected error, got %s", parent.Status)
	}
	if !strings.Contains(parent.Error, "failed to launch") {
		t.Errorf("expected launch error text, got %q", parent.Error)
	}
	if parent.ExitCode != nil {
		t.Errorf("expected no exit code, got %d", *parent.ExitCode)
	}
	testutil.AssertTaskStatus(t, run, "child", types.TaskStatusSkipped)
}

func TestRun_CancelBeforeStart(t *testing.T) {
	r := &recordingRunner{}
	e := newTestEngine(t, testutil.ScenarioWorkflow(), ModeIgnoreErrors, func(o *Options) { o.Runner = r })
	e.Cancel()
	run := runEngine(t, e)

	if got := r.launched(); len(got) != 0 {
		t.Errorf("nothing should launch after Cancel, got %v", got)
	}
	testutil.AssertAllTerminal(t, run)
	for _, name := range []string{"A", "B", "C", "D"} {
		testutil.AssertTaskStatus(t, run, name, types.TaskStatusStopped)
		testutil.AssertNeverStarted(t, run, name)
	}
	if run.Status != types.RunStatusStopped {
		t.Errorf("expected run status stopped, got %s", run.Status)
	}
}

// cancellingRunner cancels the engine from inside the fifth launch and
// records when Cancel returned.
type cancellingRunner struct {
	recordingRunner
	engine      *Engine
	once        sync.Once
	cancelledAt time.Time
}

func (r *cancellingRunner) Run(ctx context.Context, req RunRequest) Result {
	res := r.recordingRunner.Run(ctx, req)
	if len(r.launched()) >= 5 {
		r.once.Do(func() {
			r.engine.Cancel()
			r.mu.Lock()
			r.cancelledAt = time.Now()
			r.mu.Unlock()
		})
	}
	return res
}

func TestRun_NoStartAfterCancel(t *testing.T) {
	var tasks []*types.Task
	for i := 0; i < 200; i++ {
		tasks = append(tasks, testutil.Task(fmt.Sprintf("t%d", i), fmt.Sprintf("echo %d", i)))
	}
	r := &cancellingRunner{}
	e := newTestEngine(t, testutil.Workflow("wide", tasks...), ModeIgnoreErrors, func(o *Options) { o.Runner = r })
	r.engine = e
	run := runEngine(t, e)

	r.mu.Lock()
	cancelledAt := r.cancelledAt
	r.mu.Unlock()
	if cancelledAt.IsZero() {
		t.Fatal("Cancel was never called")
	}

	testutil.AssertAllTerminal(t, run)
	for _, task := range run.Tasks {
		if task.StartedAt != nil && task.StartedAt.After(cancelledAt) {
			t.Errorf("task %s started at %v, after Cancel returned at %v", task.Name, *task.StartedAt, cancelledAt)
		}
		if task.StartedAt == nil && task.Status != types.TaskStatusStopped {
			t.Errorf("task %s never started but is %s", task.Name, task.Status)
		}
	}
	if run.Status != types.RunStatusStopped {
		t.Errorf("expected run status stopped, got %s", run.Status)
	}
}

func TestRun_CancelTerminatesRunning(t *testing.T) {
	tests := []struct {
		mode  ErrorMode
		child types.TaskStatus
	}{
		{ModeCascadeSkip, types.TaskStatusSkipped},
		{ModeIgnoreErrors, types.TaskStatusStopped},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			wf := testutil.Workflow("cancel",
				testutil.Task("long", "sleep 30", testutil.Task("after", "true")),
			)
			e := newTestEngine(t, wf, tt.mode)

			done := make(chan *types.RunLog, 1)
			go func() {
				run, _ := e.Run(context.Background())
				done <- run
			}()

			waitFor(t, 5*time.Second, func() bool {
				task, _ := e.Task(0)
				return task.PID != 0
			})
			cancelledAt := time.Now()
			e.Cancel()

			var run *types.RunLog
			select {
			case run = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("run did not finish after Cancel")
			}

			testutil.AssertTaskStatus(t, run, "long", types.TaskStatusStopped)
			testutil.AssertTaskStatus(t, run, "after", tt.child)
			testutil.AssertNeverStarted(t, run, "after")
			testutil.AssertAllTerminal(t, run)

			types.Walk(run.Tasks, func(task, _ *types.Task) bool {
				if task.StartedAt != nil && task.StartedAt.After(cancelledAt) {
					t.Errorf("task %q started after Cancel", task.Name)
				}
				return true
			})
		})
	}
}

func TestRun_CancelInterruptsBarrier(t *testing.T) {
	wf := testutil.Workflow("cancel-barrier",
		testutil.Task("long", "sleep 30"),
		testutil.Task("quick", "true", testutil.WaitAll("gated", "true")),
	)
	e := newTestEngine(t, wf, ModeCascadeSkip, func(o *Options) { o.PollInterval = time.Hour })

	done := make(chan *types.RunLog, 1)
	go func() {
		run, _ := e.Run(context.Background())
		done <- run
	}()

	waitFor(t, 5*time.Second, func() bool {
		task, _ := e.Task(0)
		quick, _ := e.Task(1)
		return task.PID != 0 && quick.Status == types.TaskStatusDone
	})
	e.Cancel()

	select {
	case run := <-done:
		testutil.AssertTaskStatus(t, run, "gated", types.TaskStatusStopped)
		testutil.AssertNeverStarted(t, run, "gated")
	case <-time.After(5 * time.Second):
		t.Fatal("barrier was not interrupted by Cancel")
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	wf := testutil.Workflow("ctx", testutil.Task("long", "sleep 30"))
	e := newTestEngine(t, wf, ModeCascadeSkip)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	run, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("context cancellation did not stop the run")
	}
	if !e.Cancelled() {
		t.Error("expected engine to be cancelled")
	}
	testutil.AssertTaskStatus(t, run, "long", types.TaskStatusStopped)
}

func TestRun_OnlyOnce(t *testing.T) {
	e := newTestEngine(t, testutil.Workflow("once", testutil.Task("a", "true")), ModeCascadeSkip,
		func(o *Options) { o.Runner = &recordingRunner{} })
	runEngine(t, e)

	if _, err := e.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("expected ErrAlreadyRun, got %v", err)
	}
}

func TestRun_SinkReceivesSnapshots(t *testing.T) {
	var mu sync.Mutex
	var snaps []*types.RunLog
	sink := SinkFunc(func(run *types.RunLog) {
		mu.Lock()
		snaps = append(snaps, run)
		mu.Unlock()
	})

	e := newTestEngine(t, testutil.ScenarioWorkflow(), ModeCascadeSkip, func(o *Options) {
		o.Runner = &recordingRunner{exit: map[string]int{"exit 1": 1}}
		o.Sinks = []Sink{sink}
	})
	run := runEngine(t, e)

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) < 2 {
		t.Fatalf("expected several notifications, got %d", len(snaps))
	}
	if snaps[0].Status != types.RunStatusRunning {
		t.Errorf("first snapshot should be running, got %s", snaps[0].Status)
	}
	last := snaps[len(snaps)-1]
	if last.Status != types.RunStatusDone {
		t.Errorf("last snapshot should be done, got %s", last.Status)
	}
	testutil.AssertAllTerminal(t, last)

	// Snapshots are private copies.
	last.Tasks[0].Status = types.TaskStatusPending
	if e.Snapshot().Tasks[0].Status != run.Tasks[0].Status {
		t.Error("mutating a snapshot changed engine state")
	}

	// Statuses only ever move forward across notifications.
	prev := map[int]types.TaskStatus{}
	for _, snap := range snaps[:len(snaps)-1] {
		types.Walk(snap.Tasks, func(task, _ *types.Task) bool {
			if before, ok := prev[task.ID]; ok && before != task.Status && !before.CanTransitionTo(task.Status) {
				t.Errorf("task %q went %s -> %s", task.Name, before, task.Status)
			}
			prev[task.ID] = task.Status
			return true
		})
	}
}

func TestRun_DoesNotMutateWorkflow(t *testing.T) {
	wf := testutil.ScenarioWorkflow()
	e := newTestEngine(t, wf, ModeCascadeSkip, func(o *Options) { o.Runner = &recordingRunner{} })
	runEngine(t, e)

	types.Walk(wf.Tasks, func(task, _ *types.Task) bool {
		if task.Status != "" || task.RunCommand != "" {
			t.Errorf("caller's task %q was mutated", task.Name)
		}
		return true
	})
}

func TestRun_EmptyWorkflow(t *testing.T) {
	r := &recordingRunner{}
	e := newTestEngine(t, testutil.Workflow("empty"), ModeCascadeSkip, func(o *Options) { o.Runner = r })
	run := runEngine(t, e)

	if got := r.launched(); len(got) != 0 {
		t.Errorf("nothing should launch, got %v", got)
	}
	if run.Status != types.RunStatusDone {
		t.Errorf("expected run status done, got %s", run.Status)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		wf   *types.Workflow
		ctx  Context
		code string
	}{
		{
			name: "missing command",
			wf:   testutil.Workflow("bad", testutil.Task("a", "")),
			ctx:  Context{OutputDir: "/out", Mode: ModeCascadeSkip},
			code: ewerrors.CodeWorkflowInvalidTask,
		},
		{
			name: "duplicate sibling",
			wf:   testutil.Workflow("dup", testutil.Task("a", "true"), testutil.Task("a", "true")),
			ctx:  Context{OutputDir: "/out", Mode: ModeCascadeSkip},
			code: ewerrors.CodeWorkflowDuplicateName,
		},
		{
			name: "unknown mode",
			wf:   testutil.ScenarioWorkflow(),
			ctx:  Context{OutputDir: "/out", Mode: "sometimes"},
		},
		{
			name: "missing output dir",
			wf:   testutil.ScenarioWorkflow(),
			ctx:  Context{Mode: ModeCascadeSkip},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.wf, Options{Context: tt.ctx})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.code != "" && !ewerrors.HasCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	e := newTestEngine(t, testutil.ScenarioWorkflow(), ModeCascadeSkip, func(o *Options) {
		o.Runner = &recordingRunner{exit: map[string]int{"exit 1": 1}}
	})
	runEngine(t, e)

	root, err := e.Lookup(nil)
	if err != nil {
		t.Fatalf("Lookup(root): %v", err)
	}
	if root.Task != nil || len(root.Children) != 2 {
		t.Errorf("unexpected root view: %+v", root)
	}

	view, err := e.Lookup([]int{1})
	if err != nil {
		t.Fatalf("Lookup([1]): %v", err)
	}
	if view.Task.Name != "B" || len(view.Children) != 1 || view.Children[0].Status != types.TaskStatusSkipped {
		t.Errorf("unexpected view: %+v", view)
	}

	byName, err := e.LookupByName([]string{"A", "C"})
	if err != nil {
		t.Fatalf("LookupByName: %v", err)
	}
	if byName.Task.Status != types.TaskStatusDone || strings.Join(byName.Names, "/") != "A/C" {
		t.Errorf("unexpected view: %+v", byName)
	}

	if _, err := e.Lookup([]int{5}); !ewerrors.HasCode(err, ewerrors.CodeTaskNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := e.LookupByName([]string{"A", "nope"}); !ewerrors.HasCode(err, ewerrors.CodeTaskNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestGenerateRunID(t *testing.T) {
	a, b := GenerateRunID(), GenerateRunID()
	if !strings.HasPrefix(a, "run-") || len(a) != len("run-")+12 {
		t.Errorf("unexpected run id %q", a)
	}
	if a == b {
		t.Error("run ids should be unique")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		res       Result
		cancelled bool
		want      types.TaskStatus
	}{
		{"exit zero", Result{ExitCode: 0}, false, types.TaskStatusDone},
		{"exit non-zero", Result{ExitCode: 2}, false, types.TaskStatusError},
		{"launch error", Result{ExitCode: -1, Err: errors.New("no shell")}, false, types.TaskStatusError},
		{"refused", Result{ExitCode: -1, Cancelled: true, Err: ErrCancelled}, false, types.TaskStatusStopped},
		{"cancel overrides success", Result{ExitCode: 0}, true, types.TaskStatusStopped},
		{"cancel overrides failure", Result{ExitCode: -1}, true, types.TaskStatusStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.res, tt.cancelled); got != tt.want {
				t.Errorf("classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
