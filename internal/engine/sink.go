package engine

import "github.com/justakazh/ewe/internal/types"

// Sink receives the full run state after every status-relevant change.
//
// Notify is called while the state lock is held, so deliveries arrive in
// order and never interleave. Implementations must not call back into the
// engine. The snapshot is a private copy the sink may keep.
type Sink interface {
	Notify(run *types.RunLog)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(run *types.RunLog)

// Notify calls f(run).
func (f SinkFunc) Notify(run *types.RunLog) { f(run) }
