// Package ipc lets other processes query and cancel a running workflow.
//
// The protocol is newline-delimited JSON over a Unix domain socket. Each
// message is a single JSON object on one line. Socket path: /tmp/ewe-{run_id}.sock
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/justakazh/ewe/internal/types"
)

// MessageType identifies the IPC message kind.
type MessageType string

const (
	// Request types (client → run)
	MsgGetTask MessageType = "get_task"
	MsgGetRun  MessageType = "get_run"
	MsgCancel  MessageType = "cancel"

	// Response types (run → client)
	MsgAck      MessageType = "ack"
	MsgError    MessageType = "error"
	MsgTaskView MessageType = "task_view"
	MsgRunLog   MessageType = "run_log"
)

// Valid returns true if this is a recognized message type.
func (t MessageType) Valid() bool {
	return t.IsRequest() || t.IsResponse()
}

// IsRequest returns true if this message type is sent by a client.
func (t MessageType) IsRequest() bool {
	switch t {
	case MsgGetTask, MsgGetRun, MsgCancel:
		return true
	}
	return false
}

// IsResponse returns true if this message type is sent by the run.
func (t MessageType) IsResponse() bool {
	switch t {
	case MsgAck, MsgError, MsgTaskView, MsgRunLog:
		return true
	}
	return false
}

// --- Request Messages ---

// GetTaskMessage asks for the task at a path and its children.
// Names takes precedence over Path when set. An empty path is the root.
// Sent by: ewe inspect --path
type GetTaskMessage struct {
	Type  MessageType `json:"type"` // Always "get_task"
	Path  []int       `json:"path,omitempty"`
	Names []string    `json:"names,omitempty"`
}

// GetRunMessage asks for the full run snapshot.
// Sent by: ewe inspect
type GetRunMessage struct {
	Type MessageType `json:"type"` // Always "get_run"
}

// CancelMessage asks the run to cancel.
// Sent by: ewe stop
type CancelMessage struct {
	Type   MessageType `json:"type"` // Always "cancel"
	Reason string      `json:"reason,omitempty"`
}

// --- Response Messages ---

// AckMessage confirms successful operation.
type AckMessage struct {
	Type    MessageType `json:"type"` // Always "ack"
	Success bool        `json:"success"`
}

// ErrorMessage reports an error to the client.
type ErrorMessage struct {
	Type    MessageType `json:"type"` // Always "error"
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
}

// TaskViewMessage returns a task and its children.
type TaskViewMessage struct {
	Type MessageType     `json:"type"` // Always "task_view"
	View *types.TaskView `json:"view"`
}

// RunLogMessage returns a run snapshot.
type RunLogMessage struct {
	Type MessageType   `json:"type"` // Always "run_log"
	Run  *types.RunLog `json:"run"`
}

// --- Message Interface ---

// Message is the interface implemented by all IPC messages.
type Message interface {
	MessageType() MessageType
}

func (m *GetTaskMessage) MessageType() MessageType  { return MsgGetTask }
func (m *GetRunMessage) MessageType() MessageType   { return MsgGetRun }
func (m *CancelMessage) MessageType() MessageType   { return MsgCancel }
func (m *AckMessage) MessageType() MessageType      { return MsgAck }
func (m *ErrorMessage) MessageType() MessageType    { return MsgError }
func (m *TaskViewMessage) MessageType() MessageType { return MsgTaskView }
func (m *RunLogMessage) MessageType() MessageType   { return MsgRunLog }

// --- Parsing Helpers ---

// RawMessage is used for initial parsing to determine message type.
type RawMessage struct {
	Type MessageType `json:"type"`
}

// ParseMessage parses a JSON message and returns the appropriate typed message.
func ParseMessage(data []byte) (Message, error) {
	var raw RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var msg Message
	switch raw.Type {
	case MsgGetTask:
		msg = &GetTaskMessage{}
	case MsgGetRun:
		msg = &GetRunMessage{}
	case MsgCancel:
		msg = &CancelMessage{}
	case MsgAck:
		msg = &AckMessage{}
	case MsgError:
		msg = &ErrorMessage{}
	case MsgTaskView:
		msg = &TaskViewMessage{}
	case MsgRunLog:
		msg = &RunLogMessage{}
	default:
		return nil, fmt.Errorf("unknown message type: %q", raw.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to parse %s message: %w", raw.Type, err)
	}
	return msg, nil
}

// Marshal serializes a message to JSON as a single line.
func Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
