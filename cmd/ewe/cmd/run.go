package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/justakazh/ewe/internal/cli"
	"github.com/justakazh/ewe/internal/config"
	"github.com/justakazh/ewe/internal/engine"
	"github.com/justakazh/ewe/internal/ipc"
	"github.com/justakazh/ewe/internal/logging"
	"github.com/justakazh/ewe/internal/runlog"
	"github.com/justakazh/ewe/internal/status"
	"github.com/justakazh/ewe/internal/types"
	"github.com/justakazh/ewe/internal/workflow"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workflow against a target",
	Long: `Run every task of a workflow against a target and write results and the
run log into the output folder.

By default a live tree of task statuses is drawn until the run finishes.
Use --interactive to browse the tree with a small shell while it runs, or
--silent to draw nothing.

Ctrl-C stops all running tasks and exits with status 1.`,
	Example: `  ewe run -w recon.json -t example.com -o out/example.com
  ewe run -w recon.yaml -t example.com -o out --ignore-error-task -i`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runWorkflowPath string
	runTarget       string
	runOutput       string
	runIgnoreErrors bool
	runNoStdout     bool
	runInteractive  bool
	runSilent       bool
	runEnvFile      string
	runMaxParallel  int
	runFailOnError  bool
)

func init() {
	runCmd.Flags().StringVarP(&runWorkflowPath, "workflow", "w", "", "workflow file (.json, .yaml)")
	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", "target value for {target}")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output folder")
	runCmd.Flags().BoolVar(&runIgnoreErrors, "ignore-error-task", false, "run children of failed tasks")
	runCmd.Flags().BoolVar(&runNoStdout, "no-stdout-json", false, "do not store task stdout in the run log")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "interactive shell while the run is going")
	runCmd.Flags().BoolVarP(&runSilent, "silent", "s", false, "draw nothing")
	runCmd.Flags().StringVar(&runEnvFile, "env-file", "", "dotenv file added to every command's environment")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "cap on concurrently running commands (0: no cap)")
	runCmd.Flags().BoolVar(&runFailOnError, "fail-on-error", false, "exit 1 when any task ends in error")
	runCmd.MarkFlagRequired("workflow")
	runCmd.MarkFlagRequired("target")
	runCmd.MarkFlagRequired("output")
	runCmd.MarkFlagsMutuallyExclusive("interactive", "silent")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("env-file") {
		cfg.Engine.EnvFile = runEnvFile
	}
	if cmd.Flags().Changed("max-parallel") {
		cfg.Engine.MaxParallel = runMaxParallel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	wf, warnings, err := workflow.LoadFile(runWorkflowPath)
	if err != nil {
		return err
	}

	output, err := filepath.Abs(runOutput)
	if err != nil {
		return fmt.Errorf("resolving output folder: %w", err)
	}
	if err := os.MkdirAll(output, 0755); err != nil {
		return fmt.Errorf("creating output folder: %w", err)
	}

	runID := engine.GenerateRunID()
	lock, err := runlog.AcquireLock(cfg.LogDir(output), runID)
	if err != nil {
		return err
	}
	defer lock.Release()

	// The terminal belongs to the live view unless nothing is drawn.
	var console io.Writer = io.Discard
	if runSilent {
		console = cmd.ErrOrStderr()
	}
	logger, closer, err := logging.NewFromConfig(cfg, output, console)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	for _, w := range warnings {
		logger.Warn("workflow warning", "task", w.Path, "field", w.Field, "message", w.Message)
	}

	env, err := cfg.CommandEnv()
	if err != nil {
		return err
	}

	store, err := runlog.NewStore(cfg.RunLogPath(output), cfg.Output.LogFormat, logger)
	if err != nil {
		return err
	}

	mode := engine.ModeCascadeSkip
	if runIgnoreErrors {
		mode = engine.ModeIgnoreErrors
	}
	eng, err := engine.New(wf, engine.Options{
		Context: engine.Context{
			Target:        runTarget,
			OutputDir:     output,
			Mode:          mode,
			CaptureStdout: !runNoStdout,
		},
		Runner:       engine.NewShellRunner(cfg.Engine.Shell, env, cfg.Engine.MaxParallel, logger),
		PollInterval: cfg.Engine.PollInterval,
		KillGrace:    cfg.Engine.KillGrace,
		Sinks:        []engine.Sink{store},
		RunID:        runID,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	// The pending tree is on disk before any task starts.
	if err := store.Save(eng.Snapshot()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ipcServer := ipc.NewServer(runID, engine.NewIPCHandler(eng), logger)
	if err := ipcServer.Start(ctx); err != nil {
		logger.Warn("IPC server unavailable, inspect and stop will read the log only", "error", err)
	} else {
		defer ipcServer.Shutdown()
	}

	out := cmd.OutOrStdout()
	runDone := make(chan struct{})
	go handleSignals(out, eng, cfg, lock, runDone)

	var final *types.RunLog
	var runErr error
	go func() {
		defer close(runDone)
		final, runErr = eng.Run(ctx)
	}()

	opts := status.FormatOptions{NoColor: cfg.Display.NoColor}
	switch {
	case runSilent:
		<-runDone
	case runInteractive:
		shell := cli.NewShell(cmd.InOrStdin(), out, eng, output, opts)
		if err := shell.Run(); err != nil {
			logger.Warn("interactive shell ended", "error", err)
		}
		<-runDone
		fmt.Fprintf(out, "\n[*] Workflow finished, output in folder: %s\n", output)
	default:
		live := status.NewLive(out, eng.Snapshot, cfg.Display.RefreshInterval, opts)
		liveCtx, stopLive := context.WithCancel(ctx)
		go func() {
			<-runDone
			stopLive()
		}()
		live.Run(liveCtx)
		<-runDone
		live.Final()
	}

	if runErr != nil {
		return runErr
	}
	if err := store.Err(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "[!] Run log could not be written: %v\n", err)
	}
	return exitStatus(final, runFailOnError)
}

// exitStatus maps a finished run to the process exit status.
func exitStatus(run *types.RunLog, failOnError bool) error {
	if run.Status == types.RunStatusStopped {
		return &ExitError{Code: 1}
	}
	if failOnError && types.Count(run.Tasks).Error > 0 {
		return &ExitError{Code: 1}
	}
	return nil
}

// handleSignals cancels the run on SIGINT or SIGTERM. If the run has not
// wound down within kill_grace plus shutdown_grace the process exits.
func handleSignals(out io.Writer, eng *engine.Engine, cfg *config.Config, lock *runlog.Lock, runDone <-chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-runDone:
		return
	case <-sigChan:
	}

	fmt.Fprintln(out, "\n[!] Received termination signal (SIGTERM or SIGINT). Stopping tasks...")
	eng.Cancel()

	select {
	case <-runDone:
	case <-time.After(cfg.Engine.KillGrace + cfg.Engine.ShutdownGrace):
		fmt.Fprintln(out, "[!] Tasks did not stop in time, exiting.")
		lock.Release()
		os.Exit(1)
	}
}
