package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// SocketPath returns the IPC socket path for a run.
// Format: /tmp/ewe-{run_id}.sock
func SocketPath(runID string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("ewe-%s.sock", runID))
}

// Handler processes IPC messages and returns responses.
// Implementations should be safe for concurrent use.
type Handler interface {
	// HandleGetTask returns a TaskViewMessage or ErrorMessage.
	HandleGetTask(ctx context.Context, msg *GetTaskMessage) any

	// HandleGetRun returns a RunLogMessage.
	HandleGetRun(ctx context.Context, msg *GetRunMessage) any

	// HandleCancel cancels the run and returns an AckMessage.
	HandleCancel(ctx context.Context, msg *CancelMessage) any
}

// Server listens for IPC messages on a Unix domain socket.
type Server struct {
	socketPath string
	handler    Handler
	logger     *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
}

// NewServer creates a new IPC server for a run.
func NewServer(runID string, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: SocketPath(runID),
		handler:    handler,
		logger:     logger.With("component", "ipc-server"),
	}
}

// NewServerWithPath creates a new IPC server with a custom socket path.
// Useful for testing.
func NewServerWithPath(socketPath string, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger.With("component", "ipc-server"),
	}
}

// Path returns the path to the Unix socket.
func (s *Server) Path() string {
	return s.socketPath
}

// Start listens on the socket and serves connections in the background.
// Use Shutdown to stop the server.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener

	s.logger.Debug("IPC server started", "socket", s.socketPath)
	go s.acceptLoop(ctx)
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	// Close listener to stop accepting new connections
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Error("error closing listener", "error", err)
		}
	}

	// Wait for all connections to finish
	s.wg.Wait()

	// Remove socket file
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error("error removing socket", "error", err)
	}

	s.logger.Debug("IPC server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()

			if shutdown {
				return
			}

			// Check if context was cancelled
			select {
			case <-ctx.Done():
				return
			default:
			}

			s.logger.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	for {
		// Check context
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read one line (one message)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Error("read error", "error", err)
			}
			return
		}

		// Parse and handle the message
		response := s.handleMessage(ctx, line)

		// Send response
		if err := s.sendResponse(conn, response); err != nil {
			s.logger.Error("write error", "error", err)
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, data []byte) any {
	msg, err := ParseMessage(data)
	if err != nil {
		s.logger.Error("parse error", "error", err, "data", string(data))
		return &ErrorMessage{
			Type:    MsgError,
			Message: fmt.Sprintf("failed to parse message: %v", err),
		}
	}

	switch m := msg.(type) {
	case *GetTaskMessage:
		s.logger.Debug("handling get_task", "path", m.Path, "names", m.Names)
		return s.handler.HandleGetTask(ctx, m)

	case *GetRunMessage:
		s.logger.Debug("handling get_run")
		return s.handler.HandleGetRun(ctx, m)

	case *CancelMessage:
		s.logger.Info("handling cancel", "reason", m.Reason)
		return s.handler.HandleCancel(ctx, m)

	default:
		s.logger.Error("unexpected message type", "type", fmt.Sprintf("%T", msg))
		return &ErrorMessage{
			Type:    MsgError,
			Message: fmt.Sprintf("unexpected message type: %T", msg),
		}
	}
}

func (s *Server) sendResponse(conn net.Conn, response any) error {
	data, err := Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	// Add newline delimiter
	data = append(data, '\n')

	_, err = conn.Write(data)
	return err
}
