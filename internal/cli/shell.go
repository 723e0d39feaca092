package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/justakazh/ewe/internal/status"
	"github.com/justakazh/ewe/internal/types"
)

// Query is the live run as seen by the shell.
type Query interface {
	Lookup(path []int) (*types.TaskView, error)
	Cancel()
	// Done is closed once the run is cancelled.
	Done() <-chan struct{}
}

const shellHelp = `
> help - show help
> show - show task list
> go <index> - go to task
> get <field> <index> - get info of task (error, stdout, status, pid, command, description, result)
> back - go back to parent task
> clear - clear screen
> exit - stop the workflow and exit interactive mode
`

// Shell is the interactive browser over a running workflow tree. The
// current position is an index path; the root is the empty path.
type Shell struct {
	in        io.Reader
	out       io.Writer
	query     Query
	outputDir string
	opts      status.FormatOptions

	path  []int
	names []string
}

// NewShell creates a shell reading commands from in.
func NewShell(in io.Reader, out io.Writer, query Query, outputDir string, opts status.FormatOptions) *Shell {
	return &Shell{
		in:        in,
		out:       out,
		query:     query,
		outputDir: outputDir,
		opts:      opts,
	}
}

// Run reads commands until exit or end of input, and ends early when the
// run is cancelled. Only exit cancels the run itself. When the run is cancelled elsewhere Run
// returns without waiting for another line; the reader goroutine is left
// blocked on input and exits with the process.
func (s *Shell) Run() error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go s.read(lines, readErr)

	fmt.Fprintln(s.out, "Interactive CLI")
	for {
		fmt.Fprintf(s.out, "%s > ", s.Prompt())
		select {
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out, "\n[!] Exiting interactive mode.")
				return <-readErr
			}
			if !s.Exec(strings.TrimSpace(line)) {
				return nil
			}
		case <-s.query.Done():
			fmt.Fprintln(s.out, "\n[!] Run stopped, exiting interactive mode.")
			return nil
		}
	}
}

// read feeds input lines to Run until end of input or until Run stops
// receiving.
func (s *Shell) read(lines chan<- string, readErr chan<- error) {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	defer func() {
		readErr <- scanner.Err()
		close(lines)
	}()
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-s.query.Done():
			return
		}
	}
}

// Prompt returns the current name path, "/" at the root.
func (s *Shell) Prompt() string {
	return "/" + strings.Join(s.names, "/")
}

// Exec runs one command line. It returns false when the shell should end.
func (s *Shell) Exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	switch fields[0] {
	case "exit":
		s.query.Cancel()
		return false
	case "help":
		fmt.Fprint(s.out, shellHelp)
	case "show":
		s.show()
	case "go":
		s.enter(fields[1:])
	case "get":
		s.get(fields[1:])
	case "back":
		if len(s.path) == 0 {
			s.warn("Already at root.")
			break
		}
		s.path = s.path[:len(s.path)-1]
		s.names = s.names[:len(s.names)-1]
	case "clear":
		io.WriteString(s.out, status.ClearScreen)
	default:
		s.warn("Unknown command: " + line)
	}
	return true
}

func (s *Shell) current() (*types.TaskView, bool) {
	view, err := s.query.Lookup(s.path)
	if err != nil {
		s.warn(err.Error())
		return nil, false
	}
	return view, true
}

func (s *Shell) show() {
	view, ok := s.current()
	if !ok {
		return
	}
	if len(view.Children) == 0 {
		s.warn("No subtasks.")
		return
	}
	io.WriteString(s.out, status.FormatTaskTable(view.Children, s.opts))
}

func (s *Shell) enter(args []string) {
	view, ok := s.current()
	if !ok {
		return
	}
	idx, ok := childIndex(args, 0, view)
	if !ok {
		s.warn("Invalid index.")
		return
	}
	s.path = append(s.path, idx)
	s.names = append(s.names, view.Children[idx].Name)
}

func (s *Shell) get(args []string) {
	view, ok := s.current()
	if !ok {
		return
	}
	idx, ok := childIndex(args, 1, view)
	if !ok {
		s.warn("Invalid command.")
		return
	}
	child, err := s.query.Lookup(append(append([]int{}, s.path...), idx))
	if err != nil {
		s.warn(err.Error())
		return
	}
	value, err := child.Task.Field(args[0], s.outputDir)
	if err != nil {
		s.warn("Invalid command.")
		return
	}
	fmt.Fprintln(s.out, value)
}

func (s *Shell) warn(msg string) {
	fmt.Fprintf(s.out, "  [!] %s\n", msg)
}

// childIndex parses args[pos] as an index into the view's children.
func childIndex(args []string, pos int, view *types.TaskView) (int, bool) {
	if len(args) <= pos {
		return 0, false
	}
	idx, err := strconv.Atoi(args[pos])
	if err != nil || idx < 0 || idx >= len(view.Children) {
		return 0, false
	}
	return idx, true
}
