package orchestration

import "fmt"

// State is the lifecycle state of an orchestration run.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateCancelled     State = "cancelled"
	StateFailed        State = "failed"
)

var allowedTransitions = map[State]map[State]struct{}{
	StateUninitialized: {
		StateRunning: {},
	},
	StateRunning: {
		StateCompleted: {},
		StateCancelled: {},
		StateFailed:    {},
	},
	StateCompleted: {
		StateUninitialized: {},
	},
	StateCancelled: {
		StateUninitialized: {},
	},
	StateFailed: {
		StateUninitialized: {},
	},
}

// IsTerminal reports whether no further ticks run in this state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s State) CanTransitionTo(next State) bool {
	_, ok := allowedTransitions[s][next]
	return ok
}

func transition(from, to State) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
