package ports

import (
	"context"
	"time"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// EventHandler processes an event received from the bus
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes run events to topics and delivers them to subscribers
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	// Subscribe delivers events published on topic after the call until ctx is done.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// StateStorage persists run state
type StateStorage interface {
	SaveState(ctx context.Context, state *domain.RunState) error
	// GetState returns domain.ErrRunNotFound for unknown runs.
	GetState(ctx context.Context, runID string) (*domain.RunState, error)
	DeleteState(ctx context.Context, runID string) error
	ListStates(ctx context.Context) ([]*domain.RunState, error)
}

// MetricsCollector records service and engine metrics
type MetricsCollector interface {
	orchestration.Metrics

	RecordRunSubmitted(graph string)
	RecordRunCompleted(graph string, status domain.ExecutionStatus, duration time.Duration)
	SetActiveRuns(count int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}

// RunArchiver stores the final record of a finished run
type RunArchiver interface {
	Archive(ctx context.Context, state *domain.RunState) error
}

// ErrorReporter forwards run faults to an external tracker
type ErrorReporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
	Flush(timeout time.Duration) bool
}
