package domain

import (
	"time"

	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// ExecutionStatus is the lifecycle status of a submitted run
type ExecutionStatus string

const (
	ExecutionStatusSubmitted ExecutionStatus = "submitted"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the run has stopped
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// StatusFromState maps an engine state to a run status
func StatusFromState(s orchestration.State) ExecutionStatus {
	switch s {
	case orchestration.StateRunning:
		return ExecutionStatusRunning
	case orchestration.StateCompleted:
		return ExecutionStatusCompleted
	case orchestration.StateCancelled:
		return ExecutionStatusCancelled
	case orchestration.StateFailed:
		return ExecutionStatusFailed
	default:
		return ExecutionStatusSubmitted
	}
}

// RunState is the stored record of a run
type RunState struct {
	RunID       string               `json:"run_id"`
	Graph       string               `json:"graph"`
	Status      ExecutionStatus      `json:"status"`
	Input       any                  `json:"input,omitempty"`
	Results     []any                `json:"results,omitempty"`
	Ticks       int                  `json:"ticks"`
	Steps       []orchestration.Step `json:"steps,omitempty"`
	Properties  map[string]any       `json:"properties,omitempty"`
	Error       string               `json:"error,omitempty"`
	SubmittedAt time.Time            `json:"submitted_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Labels      map[string]string    `json:"labels,omitempty"`
}

// Clone returns a copy that shares no slices or maps with s
func (s *RunState) Clone() *RunState {
	c := *s
	c.Results = append([]any(nil), s.Results...)
	c.Steps = append([]orchestration.Step(nil), s.Steps...)
	if s.Properties != nil {
		c.Properties = make(map[string]any, len(s.Properties))
		for k, v := range s.Properties {
			c.Properties[k] = v
		}
	}
	if s.Labels != nil {
		c.Labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			c.Labels[k] = v
		}
	}
	return &c
}

// Duration returns how long the run took, or has been running
func (s *RunState) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	if s.CompletedAt != nil {
		return s.CompletedAt.Sub(*s.StartedAt)
	}
	return time.Since(*s.StartedAt)
}
