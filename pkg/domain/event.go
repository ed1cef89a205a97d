package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// EventType identifies an event on the bus
type EventType string

// Service events; engine events keep their orchestration.EventType value.
const (
	EventTypeRunSubmitted EventType = "run.submitted"
	EventTypeRunTimeout   EventType = "run.timeout"
)

// Bus topics
const (
	TopicRunEvents  = "run.events"
	TopicNodeEvents = "node.events"
)

// Event is the envelope published on the event bus
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	Graph     string         `json:"graph"`
	Tick      int            `json:"tick,omitempty"`
	NodeName  string         `json:"node_name,omitempty"`
	ProcessID string         `json:"process_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event with a fresh id
func NewEvent(t EventType, runID, graph string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		RunID:     runID,
		Graph:     graph,
		Timestamp: time.Now(),
	}
}

// EventFromEngine wraps an engine event for the bus
func EventFromEngine(graph string, e orchestration.Event) Event {
	ev := Event{
		ID:        uuid.New().String(),
		Type:      EventType(e.Type),
		RunID:     e.RunID,
		Graph:     graph,
		Tick:      e.Tick,
		NodeName:  e.NodeName,
		ProcessID: e.ProcessID,
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
	if e.Err != nil {
		ev.Data = map[string]any{"error": e.Err.Error()}
	}
	return ev
}

// Topic returns the bus topic the event belongs to
func (e Event) Topic() string {
	switch orchestration.EventType(e.Type) {
	case orchestration.EventNodeStarted, orchestration.EventNodeFinished, orchestration.EventNodeError:
		return TopicNodeEvents
	}
	return TopicRunEvents
}

// IsTerminal reports whether e closes its run
func (e Event) IsTerminal() bool {
	switch orchestration.EventType(e.Type) {
	case orchestration.EventFinished, orchestration.EventCancelled, orchestration.EventFailed:
		return true
	}
	return e.Type == EventTypeRunTimeout
}
