package engine

import (
	"context"

	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/ipc"
	"github.com/justakazh/ewe/internal/types"
)

// IPCHandler answers IPC queries against a running engine.
type IPCHandler struct {
	engine *Engine
}

// NewIPCHandler creates a handler for e.
func NewIPCHandler(e *Engine) *IPCHandler {
	return &IPCHandler{engine: e}
}

var _ ipc.Handler = (*IPCHandler)(nil)

// HandleGetTask resolves a name path when given, otherwise an index path.
func (h *IPCHandler) HandleGetTask(ctx context.Context, msg *ipc.GetTaskMessage) any {
	lookup := func() (*types.TaskView, error) { return h.engine.Lookup(msg.Path) }
	if len(msg.Names) > 0 {
		lookup = func() (*types.TaskView, error) { return h.engine.LookupByName(msg.Names) }
	}
	view, err := lookup()
	if err != nil {
		return &ipc.ErrorMessage{Type: ipc.MsgError, Code: ewerrors.Code(err), Message: err.Error()}
	}
	return &ipc.TaskViewMessage{Type: ipc.MsgTaskView, View: view}
}

func (h *IPCHandler) HandleGetRun(ctx context.Context, msg *ipc.GetRunMessage) any {
	return &ipc.RunLogMessage{Type: ipc.MsgRunLog, Run: h.engine.Snapshot()}
}

func (h *IPCHandler) HandleCancel(ctx context.Context, msg *ipc.CancelMessage) any {
	h.engine.logger.Info("cancel requested over IPC", "reason", msg.Reason)
	h.engine.Cancel()
	return &ipc.AckMessage{Type: ipc.MsgAck, Success: true}
}
