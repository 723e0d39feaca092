package ipc

import (
	"bufio"
	"fmt"
	"net"
	"time"

	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/types"
)

// Client connects to a run's IPC server to send messages.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// NewClientForRun creates a client for a specific run's IPC socket.
func NewClientForRun(runID string) *Client {
	return NewClient(SocketPath(runID))
}

// SetTimeout sets the connection and read/write timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Send sends a message and waits for a response.
// The response is parsed and returned as the appropriate message type.
func (c *Client) Send(msg any) (Message, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, ewerrors.IPCUnreachable(c.socketPath, err)
	}
	defer conn.Close()

	// Set deadline for the entire operation
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	data, err := Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	reader := bufio.NewReader(conn)
	responseLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	response, err := ParseMessage(responseLine)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return response, nil
}

// GetTask fetches the task at path (or at the name path when names is set).
func (c *Client) GetTask(path []int, names []string) (*types.TaskView, error) {
	resp, err := c.Send(&GetTaskMessage{Type: MsgGetTask, Path: path, Names: names})
	if err != nil {
		return nil, err
	}
	switch r := resp.(type) {
	case *TaskViewMessage:
		return r.View, nil
	case *ErrorMessage:
		return nil, responseError(r)
	default:
		return nil, fmt.Errorf("unexpected response type: %T", resp)
	}
}

// GetRun fetches the current run snapshot.
func (c *Client) GetRun() (*types.RunLog, error) {
	resp, err := c.Send(&GetRunMessage{Type: MsgGetRun})
	if err != nil {
		return nil, err
	}
	switch r := resp.(type) {
	case *RunLogMessage:
		return r.Run, nil
	case *ErrorMessage:
		return nil, responseError(r)
	default:
		return nil, fmt.Errorf("unexpected response type: %T", resp)
	}
}

// Cancel asks the run to stop.
func (c *Client) Cancel(reason string) error {
	resp, err := c.Send(&CancelMessage{Type: MsgCancel, Reason: reason})
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case *AckMessage:
		if !r.Success {
			return fmt.Errorf("cancel not acknowledged")
		}
		return nil
	case *ErrorMessage:
		return responseError(r)
	default:
		return fmt.Errorf("unexpected response type: %T", resp)
	}
}

func responseError(msg *ErrorMessage) error {
	if msg.Code != "" {
		return &ewerrors.EweError{Code: msg.Code, Message: msg.Message}
	}
	return fmt.Errorf("%s", msg.Message)
}
