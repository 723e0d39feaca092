package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/ipc"
	"github.com/justakazh/ewe/internal/runlog"
	"github.com/justakazh/ewe/internal/status"
	"github.com/justakazh/ewe/internal/types"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the state of a run",
	Long: `Show the state of a run, or of one task with --path.

A live run is asked directly over its IPC socket. When the run is not
reachable the persisted run log in <output>/logs is read instead.`,
	Example: `  ewe inspect -o out/example.com
  ewe inspect -o out/example.com --path subdomains/livehosts
  ewe inspect --run run-1a2b3c4d5e6f --json`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

var (
	inspectOutput string
	inspectRunID  string
	inspectPath   string
	inspectJSON   bool
)

func init() {
	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "output folder of the run")
	inspectCmd.Flags().StringVar(&inspectRunID, "run", "", "run ID of a live run")
	inspectCmd.Flags().StringVarP(&inspectPath, "path", "p", "", "task name path, e.g. subdomains/livehosts")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ref, err := resolveRun(cfg, inspectOutput, inspectRunID)
	if err != nil {
		return err
	}
	names := splitTaskPath(inspectPath)
	out := cmd.OutOrStdout()
	opts := status.FormatOptions{NoColor: cfg.Display.NoColor || inspectJSON}

	if ref.RunID != "" {
		client := ipc.NewClientForRun(ref.RunID)
		if inspectPath != "" {
			view, err := client.GetTask(nil, names)
			if err == nil {
				return printTaskView(out, view, ref.Output, opts)
			}
			if !ewerrors.HasCode(err, ewerrors.CodeIPCUnreachable) {
				return err
			}
		} else {
			run, err := client.GetRun()
			if err == nil {
				return printRun(out, run, true, opts)
			}
			if !ewerrors.HasCode(err, ewerrors.CodeIPCUnreachable) {
				return err
			}
		}
	}

	if ref.LogPath == "" {
		return fmt.Errorf("run %s is not reachable; pass --output to read its log", ref.RunID)
	}
	run, err := runlog.Load(ref.LogPath)
	if err != nil {
		return err
	}
	if inspectPath == "" {
		return printRun(out, run, false, opts)
	}
	path, ok := types.ResolveNames(run.Tasks, names)
	if !ok {
		return ewerrors.TaskNotFound(inspectPath)
	}
	view, _ := types.Lookup(run.Tasks, path)
	return printTaskView(out, view, run.Output, opts)
}

func printRun(out io.Writer, run *types.RunLog, live bool, opts status.FormatOptions) error {
	if inspectJSON {
		return writeJSON(out, run)
	}
	fmt.Fprint(out, status.FormatSummary(status.NewRunSummary(run, live), opts))
	fmt.Fprintln(out)
	fmt.Fprint(out, status.FormatTree(run.Tasks, opts))
	return nil
}

func printTaskView(out io.Writer, view *types.TaskView, outputDir string, opts status.FormatOptions) error {
	if inspectJSON {
		return writeJSON(out, view)
	}
	fmt.Fprint(out, status.FormatTaskView(view, outputDir, opts))
	return nil
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
