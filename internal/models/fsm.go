package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states. The machine is
// strictly monotonic: queued -> running -> {finished|failed}. Jobs are
// never re-queued automatically.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusRunning: true, // worker claims the job
	},
	JobStatusRunning: {
		JobStatusFinished: true, // exit 0 and output present
		JobStatusFailed:   true, // nonzero exit, timeout, missing output, restart
	},
	// Terminal states (no transitions allowed)
	JobStatusFinished: {},
	JobStatusFailed:   {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusFinished || state == JobStatusFailed
}
