package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"syscall"

	"golang.org/x/sync/semaphore"

	ewerrors "github.com/justakazh/ewe/internal/errors"
)

// RunRequest describes one command launch.
type RunRequest struct {
	Command       string
	CaptureStdout bool

	// Registry tracks the live process so Cancel can terminate it.
	Registry *Controller

	// OnStart is called with the PID once the process is running.
	OnStart func(pid int)
}

// Result is the outcome of one command.
type Result struct {
	PID      int
	ExitCode int // -1 when the process never started or was killed by a signal
	Stdout   string
	Stderr   string

	// Err is set when the command could not be launched.
	Err error

	// Cancelled is set when the launch was refused because the run was cancelled.
	Cancelled bool
}

// Runner executes materialized commands.
type Runner interface {
	Run(ctx context.Context, req RunRequest) Result
}

// ShellRunner runs commands through a shell, each in its own process group.
type ShellRunner struct {
	// Shell is used as `<Shell> -c <command>`. Defaults to "/bin/sh".
	Shell string

	// Env is added on top of the inherited environment.
	Env map[string]string

	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewShellRunner creates a runner. maxParallel caps how many processes may be
// live at once; zero means no cap.
func NewShellRunner(shell string, env map[string]string, maxParallel int, logger *slog.Logger) *ShellRunner {
	if shell == "" {
		shell = "/bin/sh"
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &ShellRunner{
		Shell:  shell,
		Env:    env,
		logger: logger.With("component", "runner"),
	}
	if maxParallel > 0 {
		r.sem = semaphore.NewWeighted(int64(maxParallel))
	}
	return r
}

// Run launches the command and waits for it to exit.
// Launch failures come back in Result.Err; Run never panics on them.
func (r *ShellRunner) Run(ctx context.Context, req RunRequest) Result {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return Result{ExitCode: -1, Err: ErrCancelled, Cancelled: true}
		}
		defer r.sem.Release(1)
	}

	var slot *Slot
	if req.Registry != nil {
		s, err := req.Registry.Acquire()
		if err != nil {
			return Result{ExitCode: -1, Err: err, Cancelled: true}
		}
		slot = s
	}
	defer slot.Release()

	cmd := exec.Command(r.Shell, "-c", req.Command)
	if len(r.Env) > 0 {
		cmd.Env = os.Environ()
		keys := make([]string, 0, len(r.Env))
		for k := range r.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, r.Env[k]))
		}
	}

	var stdout, stderr bytes.Buffer
	if req.CaptureStdout {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	// Own process group so termination reaches everything the shell spawned
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Err: ewerrors.TaskLaunchFailed(req.Command, err)}
	}

	pid := cmd.Process.Pid
	if req.OnStart != nil {
		req.OnStart(pid)
	}
	if err := slot.Attach(processGroup(pid)); err != nil {
		r.logger.Debug("process started after cancellation", "pid", pid)
	}

	res := Result{PID: pid}
	err := cmd.Wait()
	switch {
	case err == nil:
		res.ExitCode = 0
	case isExitError(err):
		res.ExitCode = cmd.ProcessState.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
