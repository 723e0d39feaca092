package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ErrCancelled is returned when work is refused because the run was cancelled.
var ErrCancelled = errors.New("run cancelled")

// Process is a live external process that can be signalled.
type Process interface {
	Pid() int
	Signal(sig syscall.Signal) error
}

// processGroup signals every process in the group led by pid. Commands are
// started with Setpgid, so this reaches the shell and anything it spawned.
type processGroup int

func (p processGroup) Pid() int { return int(p) }

func (p processGroup) Signal(sig syscall.Signal) error {
	return syscall.Kill(-int(p), sig)
}

// Controller is the cancellation flag plus the registry of live processes.
//
// The flag and the registry share one mutex: a process attached after Cancel
// is terminated on the spot, so nothing started during teardown is missed.
type Controller struct {
	mu     sync.Mutex
	slots  map[uint64]*Slot
	nextID uint64

	cancelled atomic.Bool
	ctx       context.Context
	stop      context.CancelFunc

	killGrace time.Duration
	logger    *slog.Logger
}

// NewController creates a controller. killGrace is how long a process group
// has between SIGTERM and SIGKILL; zero sends only SIGTERM.
func NewController(killGrace time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Controller{
		slots:     make(map[uint64]*Slot),
		ctx:       ctx,
		stop:      stop,
		killGrace: killGrace,
		logger:    logger.With("component", "cancel"),
	}
}

// Cancelled reports whether Cancel has been called.
func (c *Controller) Cancelled() bool {
	return c.cancelled.Load()
}

// Done is closed when the run is cancelled.
func (c *Controller) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context is cancelled together with the controller.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Live returns the number of registered processes.
func (c *Controller) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.slots {
		if s.proc != nil {
			n++
		}
	}
	return n
}

// Cancel sets the flag and terminates every live process. Only the first call
// has any effect; it returns false for later calls.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if c.cancelled.Load() {
		c.mu.Unlock()
		return false
	}
	c.cancelled.Store(true)
	live := make([]*Slot, 0, len(c.slots))
	for _, s := range c.slots {
		if s.proc != nil {
			live = append(live, s)
		}
	}
	c.mu.Unlock()

	c.stop()
	c.logger.Info("cancelling run", "live_processes", len(live))

	for _, s := range live {
		c.terminate(s, s.proc)
	}
	return true
}

// Acquire reserves a registry slot for a process about to start.
// It fails with ErrCancelled once the run is cancelled.
func (c *Controller) Acquire() (*Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled.Load() {
		return nil, ErrCancelled
	}
	c.nextID++
	s := &Slot{c: c, id: c.nextID}
	c.slots[s.id] = s
	return s, nil
}

// terminate sends SIGTERM to the process and, after the kill grace, SIGKILL
// if the slot still holds it.
func (c *Controller) terminate(s *Slot, p Process) {
	switch err := p.Signal(syscall.SIGTERM); {
	case err == nil:
		c.logger.Info("terminated process", "pid", p.Pid())
	case errors.Is(err, syscall.ESRCH):
		// already gone
	default:
		c.logger.Warn("error terminating process", "pid", p.Pid(), "error", err)
	}

	if c.killGrace <= 0 {
		return
	}
	time.AfterFunc(c.killGrace, func() {
		if !c.holds(s, p) {
			return
		}
		if err := p.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			c.logger.Warn("error killing process", "pid", p.Pid(), "error", err)
			return
		}
		c.logger.Info("killed process after grace period", "pid", p.Pid(), "grace", c.killGrace)
	})
}

func (c *Controller) holds(s *Slot, p Process) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.slots[s.id]
	return ok && cur.proc == p
}

// Slot is one reservation in the live-process registry.
type Slot struct {
	c    *Controller
	id   uint64
	proc Process
}

// Attach records the started process. If the run was cancelled in between,
// the process is terminated immediately and ErrCancelled is returned.
func (s *Slot) Attach(p Process) error {
	if s == nil {
		return nil
	}
	s.c.mu.Lock()
	s.proc = p
	cancelled := s.c.cancelled.Load()
	s.c.mu.Unlock()

	if cancelled {
		s.c.terminate(s, p)
		return ErrCancelled
	}
	return nil
}

// Release removes the slot from the registry. Safe to call more than once.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.c.mu.Lock()
	delete(s.c.slots, s.id)
	s.c.mu.Unlock()
}
