package orchestration

import "github.com/google/uuid"

// DefaultMaxAttempts is the number of times a process may run before it is dropped.
const DefaultMaxAttempts = 3

// Process is one pending delivery of a payload to a runnable.
//
// A retried process keeps its ID and its original input.
type Process struct {
	ID          string
	Runnable    Runnable
	Input       any
	Attempts    int
	MaxAttempts int
}

// NewProcess creates a process delivering input to r
func NewProcess(r Runnable, input any, maxAttempts int) *Process {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Process{
		ID:          uuid.New().String(),
		Runnable:    r,
		Input:       input,
		MaxAttempts: maxAttempts,
	}
}

// TryConsumeAttempt charges p with one failed attempt and reports whether the
// charged process may run again. p itself is not modified.
func TryConsumeAttempt(p Process) (Process, bool) {
	next := p
	next.Attempts++
	return next, next.Attempts < next.MaxAttempts
}

// Snapshot returns a value copy suitable for logs and step records
func (p *Process) Snapshot() ProcessSnapshot {
	s := ProcessSnapshot{
		ID:          p.ID,
		Input:       p.Input,
		Attempts:    p.Attempts,
		MaxAttempts: p.MaxAttempts,
	}
	if p.Runnable != nil {
		s.NodeID = p.Runnable.ID()
		s.NodeName = p.Runnable.Name()
	}
	return s
}

// ProcessSnapshot is an immutable view of a process.
type ProcessSnapshot struct {
	ID          string `json:"id"`
	NodeID      string `json:"node_id"`
	NodeName    string `json:"node_name"`
	Input       any    `json:"input,omitempty"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
}

// Result correlates a node output with the process that produced it.
type Result struct {
	ProcessID string
	Output    any
}

// Step records the active set of one tick.
type Step struct {
	Tick  int        `json:"tick"`
	Nodes []StepNode `json:"nodes"`
}

// StepNode is one active entry of a step: a node and the processes queued on it.
type StepNode struct {
	NodeID    string            `json:"node_id"`
	NodeName  string            `json:"node_name"`
	Processes []ProcessSnapshot `json:"processes"`
}
