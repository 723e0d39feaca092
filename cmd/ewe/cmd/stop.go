package cmd

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/justakazh/ewe/internal/cli"
	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/ipc"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running workflow",
	Long: `Stop a running workflow. Running tasks are terminated, pending tasks are
marked stopped and the run exits with status 1.

The run is asked over its IPC socket. If the socket is gone, SIGTERM is
sent to the run's process instead.`,
	Example: `  ewe stop -o out/example.com
  ewe stop --run run-1a2b3c4d5e6f --yes`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

var (
	stopOutput string
	stopRunID  string
	stopYes    bool
)

func init() {
	stopCmd.Flags().StringVarP(&stopOutput, "output", "o", "", "output folder of the run")
	stopCmd.Flags().StringVar(&stopRunID, "run", "", "run ID")
	stopCmd.Flags().BoolVarP(&stopYes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ref, err := resolveRun(cfg, stopOutput, stopRunID)
	if err != nil {
		return err
	}
	if ref.RunID == "" {
		return fmt.Errorf("no run in progress in %s", ref.Output)
	}
	out := cmd.OutOrStdout()

	if !stopYes {
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			confirmed, err := cli.Confirm(f, out, fmt.Sprintf("Stop run %s?", ref.RunID), false)
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
		}
	}

	err = ipc.NewClientForRun(ref.RunID).Cancel("ewe stop")
	if err == nil {
		fmt.Fprintf(out, "Stop requested for run %s\n", ref.RunID)
		return nil
	}
	if !ewerrors.HasCode(err, ewerrors.CodeIPCUnreachable) || ref.PID == 0 {
		return err
	}

	// CRITICAL: PIDs get reused, only signal a process that is ewe.
	if err := validateEweProcess(ref.PID); err != nil {
		return fmt.Errorf("run not reachable: %w", err)
	}
	if err := syscall.Kill(ref.PID, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return fmt.Errorf("run process %d no longer exists", ref.PID)
		}
		if err == syscall.EPERM {
			return fmt.Errorf("permission denied to stop run (PID %d)", ref.PID)
		}
		return fmt.Errorf("sending signal: %w", err)
	}
	fmt.Fprintf(out, "Sent stop signal to run %s (PID %d)\n", ref.RunID, ref.PID)
	return nil
}

// validateEweProcess checks that the PID is actually an ewe process.
func validateEweProcess(pid int) error {
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("process %d does not exist", pid)
		}
		return fmt.Errorf("reading process info: %w", err)
	}

	// cmdline is null-separated
	if !strings.Contains(string(cmdline), "ewe") {
		return fmt.Errorf("process %d is not an ewe process", pid)
	}
	return nil
}
