package orchestration

import (
	"errors"
	"fmt"
)

// Configuration and run errors.
var (
	// ErrTypeMismatch is returned when declared node types do not line up.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrNoEntry is returned when a run is started without an entry runnable.
	ErrNoEntry = errors.New("entry runnable not set")

	// ErrNilRunnable is returned when a nil runnable is registered or wired.
	ErrNilRunnable = errors.New("runnable is nil")

	// ErrUnknownRunnable is returned when a reachable runnable is missing from the registry.
	ErrUnknownRunnable = errors.New("runnable not registered")

	// ErrDuplicateRunnable is returned when two runnables share a name.
	ErrDuplicateRunnable = errors.New("runnable already registered")

	// ErrAlreadyRunning is returned when Run is called on a running orchestration.
	ErrAlreadyRunning = errors.New("orchestration already running")

	// ErrCancelled is returned by Run when the run stopped on cancellation.
	ErrCancelled = errors.New("orchestration cancelled")

	// ErrNodeTimeout is returned when a node invocation exceeds its timeout.
	ErrNodeTimeout = errors.New("node invocation timed out")

	// ErrInvalidTransition is returned on an illegal state change.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Phase names the part of a node's lifecycle that faulted.
type Phase string

const (
	PhaseInitialize Phase = "initialize"
	PhaseInvoke     Phase = "invoke"
	PhaseAdvance    Phase = "advance"
	PhaseCleanup    Phase = "cleanup"
)

// NodeError is a fault raised by a runnable's function or hooks.
type NodeError struct {
	NodeID    string
	NodeName  string
	ProcessID string
	Phase     Phase
	Err       error
}

func (e *NodeError) Error() string {
	if e.ProcessID != "" {
		return fmt.Sprintf("node %s %s failed (process %s): %v", e.NodeName, e.Phase, e.ProcessID, e.Err)
	}
	return fmt.Sprintf("node %s %s failed: %v", e.NodeName, e.Phase, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
