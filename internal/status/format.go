package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/justakazh/ewe/internal/types"
)

// FormatOptions controls output formatting.
type FormatOptions struct {
	NoColor bool

	// Width truncates tree lines when positive.
	Width int
}

// Banner is printed above the progress view and the final tree.
const Banner = `
   _____      ______
  / __/ | /| / / __/
 / _/ | |/ |/ / _/
/___/ |__/|__/___/
Execution Workflow Engine
`

// FormatTree renders the task tree, one task per line, children indented
// under their parent.
//
//	[✓] subdomains (done)
//	  └── [~] livehosts (running)
func FormatTree(tasks []*types.Task, opts FormatOptions) string {
	var b strings.Builder
	writeTree(&b, tasks, 0, opts)
	return b.String()
}

func writeTree(b *strings.Builder, tasks []*types.Task, depth int, opts FormatOptions) {
	for _, task := range tasks {
		prefix := ""
		if depth > 0 {
			prefix = strings.Repeat("  ", depth) + "└── "
		}
		color := statusColor(task.Status, opts.NoColor)
		line := fmt.Sprintf("%s[%s] %s%s%s (%s)",
			prefix, statusIcon(task.Status), color, task.Name, resetColor(opts.NoColor),
			ColorStatus(task.Status, opts.NoColor))
		if opts.Width > 0 && opts.NoColor && len([]rune(line)) > opts.Width {
			line = string([]rune(line)[:opts.Width-1]) + "…"
		}
		b.WriteString(line)
		b.WriteString("\n")
		writeTree(b, task.Tasks, depth+1, opts)
	}
}

// FormatTaskTable renders child summaries as the No/Name/Status/Child Task table.
func FormatTaskTable(children []types.TaskSummary, opts FormatOptions) string {
	nameWidth := len("Name")
	for _, c := range children {
		nameWidth = max(nameWidth, len(c.Name))
	}
	const statusWidth = len("skipped")

	var b strings.Builder
	fmt.Fprintf(&b, "%-3s  %-*s  %-*s  %s\n", "No", nameWidth, "Name", statusWidth, "Status", "Child Task")
	fmt.Fprintf(&b, "%s  %s  %s  %s\n", "---", strings.Repeat("-", nameWidth), strings.Repeat("-", statusWidth), "----------")
	for _, c := range children {
		// Pad outside the color codes so escapes do not count toward the width.
		pad := strings.Repeat(" ", max(0, statusWidth-len(c.Status)))
		fmt.Fprintf(&b, "%-3d  %-*s  %s%s  %d\n", c.Index, nameWidth, c.Name, ColorStatus(c.Status, opts.NoColor), pad, c.ChildCount)
	}
	return b.String()
}

// FormatProgress renders a progress bar and the status breakdown.
func FormatProgress(counts types.StatusCounts, opts FormatOptions) string {
	var b strings.Builder

	completed := counts.Terminal()
	var percentage int
	if counts.Total > 0 {
		percentage = (completed * 100) / counts.Total
	}

	barWidth := 25
	filled := (percentage * barWidth) / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(&b, "Progress: %s %d%% (%d/%d tasks)\n", bar, percentage, completed, counts.Total)

	parts := []string{}
	add := func(n int, status types.TaskStatus) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s%s %d %s%s",
				statusColor(status, opts.NoColor), statusIcon(status), n, status, resetColor(opts.NoColor)))
		}
	}
	add(counts.Done, types.TaskStatusDone)
	add(counts.Running, types.TaskStatusRunning)
	add(counts.Pending, types.TaskStatusPending)
	add(counts.Error, types.TaskStatusError)
	add(counts.Stopped, types.TaskStatusStopped)
	add(counts.Skipped, types.TaskStatusSkipped)
	b.WriteString("Tasks:    ")
	b.WriteString(strings.Join(parts, ", "))
	return b.String()
}

// FormatSummary renders the run header, progress and failed tasks.
func FormatSummary(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run:      %s\n", summary.RunID)
	fmt.Fprintf(&b, "Workflow: %s\n", summary.Workflow)
	fmt.Fprintf(&b, "Target:   %s\n", summary.Target)
	fmt.Fprintf(&b, "Output:   %s\n", summary.Output)
	fmt.Fprintf(&b, "Status:   %s%s%s", runStatusColor(summary.Status, opts.NoColor), summary.Status, resetColor(opts.NoColor))
	if summary.Live {
		b.WriteString(" (live)")
	}
	b.WriteString("\n")
	if !summary.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started:  %s", formatTime(summary.StartedAt))
		if summary.DoneAt != nil {
			fmt.Fprintf(&b, " (took %s)", formatDuration(summary.DoneAt.Sub(summary.StartedAt)))
		} else {
			fmt.Fprintf(&b, " (%s ago)", formatDuration(time.Since(summary.StartedAt)))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(FormatProgress(summary.Counts, opts))
	b.WriteString("\n")

	if len(summary.Failed) > 0 {
		fmt.Fprintf(&b, "\n%sErrors:%s\n", getColor("red", opts.NoColor), resetColor(opts.NoColor))
		for _, f := range summary.Failed {
			msg := firstLine(f.Error)
			if msg == "" {
				msg = "(no output)"
			}
			fmt.Fprintf(&b, "  %s✗%s %s: %s\n", getColor("red", opts.NoColor), resetColor(opts.NoColor), f.Path, msg)
		}
	}
	return b.String()
}

// FormatTaskView renders one task's fields followed by its children table.
// A view without a task is the workflow root and renders the table only.
func FormatTaskView(view *types.TaskView, outputDir string, opts FormatOptions) string {
	var b strings.Builder

	if t := view.Task; t != nil {
		fmt.Fprintf(&b, "Task:     /%s\n", strings.Join(view.Names, "/"))
		fmt.Fprintf(&b, "Status:   %s\n", ColorStatus(t.Status, opts.NoColor))
		command, _ := t.Field("command", outputDir)
		fmt.Fprintf(&b, "Command:  %s\n", command)
		fmt.Fprintf(&b, "Result:   %s\n", t.ResultPath(outputDir))
		if t.PID != 0 {
			fmt.Fprintf(&b, "PID:      %d\n", t.PID)
		}
		if t.ExitCode != nil {
			fmt.Fprintf(&b, "Exit:     %d\n", *t.ExitCode)
		}
		if t.StartedAt != nil {
			fmt.Fprintf(&b, "Started:  %s", formatTime(*t.StartedAt))
			if t.FinishedAt != nil {
				fmt.Fprintf(&b, " (took %s)", formatDuration(t.FinishedAt.Sub(*t.StartedAt)))
			}
			b.WriteString("\n")
		}
		if t.Error != "" {
			fmt.Fprintf(&b, "\nError:\n%s\n", strings.TrimRight(t.Error, "\n"))
		}
		if t.Stdout != "" {
			fmt.Fprintf(&b, "\nStdout:\n%s\n", strings.TrimRight(t.Stdout, "\n"))
		}
		b.WriteString("\n")
	}

	if len(view.Children) == 0 {
		b.WriteString("No subtasks.\n")
		return b.String()
	}
	b.WriteString(FormatTaskTable(view.Children, opts))
	return b.String()
}

// ColorStatus wraps the status name in its color.
func ColorStatus(s types.TaskStatus, noColor bool) string {
	return statusColor(s, noColor) + string(s) + resetColor(noColor)
}

func statusIcon(s types.TaskStatus) string {
	switch s {
	case types.TaskStatusDone:
		return "✓"
	case types.TaskStatusRunning:
		return "~"
	case types.TaskStatusError:
		return "✗"
	case types.TaskStatusPending:
		return " "
	case types.TaskStatusSkipped:
		return "-"
	case types.TaskStatusStopped:
		return "!"
	default:
		return "?"
	}
}

func statusColor(s types.TaskStatus, noColor bool) string {
	switch s {
	case types.TaskStatusDone:
		return getColor("green", noColor)
	case types.TaskStatusRunning:
		return getColor("yellow", noColor)
	case types.TaskStatusError:
		return getColor("red", noColor)
	case types.TaskStatusPending:
		return getColor("blue", noColor)
	case types.TaskStatusSkipped, types.TaskStatusStopped:
		return getColor("gray", noColor)
	default:
		return ""
	}
}

func runStatusColor(s types.RunStatus, noColor bool) string {
	switch s {
	case types.RunStatusRunning:
		return getColor("yellow", noColor)
	case types.RunStatusDone:
		return getColor("green", noColor)
	default:
		return getColor("gray", noColor)
	}
}

func getColor(name string, noColor bool) string {
	if noColor {
		return ""
	}
	switch name {
	case "red":
		return "\033[31m"
	case "green":
		return "\033[32m"
	case "yellow":
		return "\033[33m"
	case "blue":
		return "\033[34m"
	case "gray":
		return "\033[90m"
	default:
		return ""
	}
}

func resetColor(noColor bool) string {
	if noColor {
		return ""
	}
	return "\033[0m"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
