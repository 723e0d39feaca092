package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/justakazh/ewe/internal/types"
)

// ClearScreen moves the cursor home and clears the terminal.
const ClearScreen = "\033[H\033[2J"

// Live redraws the progress view at a fixed interval while a run is active.
type Live struct {
	w        io.Writer
	snapshot func() *types.RunLog
	interval time.Duration
	opts     FormatOptions
	tty      bool
}

// NewLive creates a live view writing to w. Frames are only redrawn when w is
// a terminal; otherwise Run stays quiet and only the final frame is written.
func NewLive(w io.Writer, snapshot func() *types.RunLog, interval time.Duration, opts FormatOptions) *Live {
	l := &Live{w: w, snapshot: snapshot, interval: interval, opts: opts}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		l.tty = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && opts.NoColor {
			l.opts.Width = width
		}
	}
	if !l.tty {
		l.opts.NoColor = true
	}
	if l.interval <= 0 {
		l.interval = time.Second
	}
	return l
}

// IsTerminal reports whether the view redraws in place.
func (l *Live) IsTerminal() bool {
	return l.tty
}

// Run draws frames until ctx is done.
func (l *Live) Run(ctx context.Context) {
	if !l.tty {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		l.draw(true)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Final writes the finished tree followed by the output folder line.
func (l *Live) Final() {
	l.draw(false)
	run := l.snapshot()
	fmt.Fprintf(l.w, "\n[*] Workflow finished, output in folder: %s\n", run.Output)
}

func (l *Live) draw(progress bool) {
	run := l.snapshot()
	if l.tty {
		io.WriteString(l.w, ClearScreen)
	}
	io.WriteString(l.w, Frame(run, progress, l.opts))
}

// Frame renders one screen: banner, tree and either the wait line or the
// run summary.
func Frame(run *types.RunLog, progress bool, opts FormatOptions) string {
	out := Banner + "\n"
	if progress {
		out += "[*] Workflow Progress\n\n"
	}
	out += FormatTree(run.Tasks, opts)
	if progress {
		out += "\n" + FormatProgress(types.Count(run.Tasks), opts) + "\n"
		out += "\n[*] Take your coffee and please wait..\n"
	}
	return out
}
