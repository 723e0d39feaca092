package engine

import "time"

// DefaultPollInterval is how often a wait_all barrier rechecks its scope.
const DefaultPollInterval = 500 * time.Millisecond

// awaitLevel blocks until every node in scope is terminal. It returns false
// if the run was cancelled first; cancellation wakes it without waiting for
// the next poll.
func (e *Engine) awaitLevel(scope []*node) bool {
	if len(scope) == 0 {
		return !e.ctrl.Cancelled()
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if e.ctrl.Cancelled() {
			return false
		}
		if e.state.allTerminal(scope) {
			return true
		}
		select {
		case <-e.ctrl.Done():
			return false
		case <-ticker.C:
		}
	}
}
