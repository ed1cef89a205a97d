package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/orchestration"
	"github.com/aescanero/tickgraph/pkg/ports"
)

// Manager submits runs of catalog graphs and tracks them
type Manager struct {
	catalog   *Catalog
	validator *Validator
	eventBus  ports.EventBus
	storage   ports.StateStorage
	metrics   ports.MetricsCollector
	logger    *zap.Logger

	archiver   ports.RunArchiver
	reporter   ports.ErrorReporter
	executor   orchestration.Executor
	tracer     trace.Tracer
	engineOpts []orchestration.Option
	runTimeout time.Duration

	// Track active executions
	executions sync.Map // map[string]*execution
	active     atomic.Int64
	wg         sync.WaitGroup
	closed     atomic.Bool
}

// execution holds state for a single run
type execution struct {
	runID  string
	graph  string
	exec   orchestration.Executable
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state *domain.RunState
}

// ManagerOption configures optional manager dependencies
type ManagerOption func(*Manager)

// WithArchiver stores every finished run with a
func WithArchiver(a ports.RunArchiver) ManagerOption {
	return func(m *Manager) { m.archiver = a }
}

// WithErrorReporter reports failed runs to r
func WithErrorReporter(r ports.ErrorReporter) ManagerOption {
	return func(m *Manager) { m.reporter = r }
}

// WithExecutor runs node invocations of every run on e
func WithExecutor(e orchestration.Executor) ManagerOption {
	return func(m *Manager) { m.executor = e }
}

// WithTracer traces every run with t
func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = t }
}

// WithEngineOptions applies opts to every orchestration the manager builds
func WithEngineOptions(opts ...orchestration.Option) ManagerOption {
	return func(m *Manager) { m.engineOpts = append(m.engineOpts, opts...) }
}

// WithRunTimeout bounds each run. Zero disables the bound.
func WithRunTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.runTimeout = d }
}

// NewManager creates a new run manager
func NewManager(
	catalog *Catalog,
	validator *Validator,
	eventBus ports.EventBus,
	storage ports.StateStorage,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		catalog:   catalog,
		validator: validator,
		eventBus:  eventBus,
		storage:   storage,
		metrics:   metrics,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Graphs lists the graphs runs can be submitted to
func (m *Manager) Graphs() []GraphInfo {
	return m.catalog.List()
}

// SubmitRun validates input against graph and starts a run in the background
func (m *Manager) SubmitRun(ctx context.Context, graph string, input json.RawMessage, labels map[string]string) (*domain.RunState, error) {
	if m.closed.Load() {
		return nil, fmt.Errorf("manager is shut down")
	}

	runID := uuid.New().String()

	exec, err := m.catalog.Build(graph, m.runOptions(runID)...)
	if err != nil {
		return nil, err
	}
	if err := m.validator.Validate(exec); err != nil {
		m.logger.Error("graph validation failed",
			zap.String("graph", graph),
			zap.Error(err))
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	decoded, err := m.validator.DecodeInput(exec, input)
	if err != nil {
		return nil, err
	}

	state := &domain.RunState{
		RunID:       runID,
		Graph:       graph,
		Status:      domain.ExecutionStatusSubmitted,
		Input:       decoded,
		SubmittedAt: time.Now(),
		Labels:      labels,
	}

	if err := m.storage.SaveState(ctx, state); err != nil {
		m.logger.Error("failed to save initial state",
			zap.String("run_id", runID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to save state: %w", err)
	}

	event := domain.NewEvent(domain.EventTypeRunSubmitted, runID, graph)
	if err := m.eventBus.Publish(ctx, domain.TopicRunEvents, event); err != nil {
		m.logger.Error("failed to publish run submitted event",
			zap.String("run_id", runID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}

	runCtx, cancel := m.runContext()
	e := &execution{
		runID:  runID,
		graph:  graph,
		exec:   exec,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  state.Clone(),
	}
	m.executions.Store(runID, e)
	m.metrics.SetActiveRuns(int(m.active.Add(1)))
	m.metrics.RecordRunSubmitted(graph)

	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("graph", graph))

	m.wg.Add(1)
	go m.execute(runCtx, e, decoded)

	return state, nil
}

func (m *Manager) runOptions(runID string) []orchestration.Option {
	opts := []orchestration.Option{
		orchestration.WithLogger(m.logger),
		orchestration.WithMetrics(m.metrics),
	}
	if m.executor != nil {
		opts = append(opts, orchestration.WithExecutor(m.executor))
	}
	if m.tracer != nil {
		opts = append(opts, orchestration.WithTracer(m.tracer))
	}
	opts = append(opts, m.engineOpts...)
	return append(opts, orchestration.WithRunID(runID))
}

func (m *Manager) runContext() (context.Context, context.CancelFunc) {
	if m.runTimeout > 0 {
		return context.WithTimeout(context.Background(), m.runTimeout)
	}
	return context.WithCancel(context.Background())
}

// execute drives one run and records its outcome
func (m *Manager) execute(ctx context.Context, e *execution, input any) {
	defer m.wg.Done()
	defer close(e.done)
	defer e.cancel()

	unsubscribe := e.exec.Subscribe(func(ev orchestration.Event) {
		m.onEngineEvent(e, ev)
	})
	results, runErr := e.exec.RunAny(ctx, input)
	unsubscribe()

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	final := m.finish(e, results, runErr, timedOut)

	m.executions.Delete(e.runID)
	m.metrics.SetActiveRuns(int(m.active.Add(-1)))
	m.metrics.RecordRunCompleted(e.graph, final.Status, final.Duration())

	if timedOut {
		m.logger.Warn("run timed out",
			zap.String("run_id", e.runID),
			zap.Duration("timeout", m.runTimeout))
		event := domain.NewEvent(domain.EventTypeRunTimeout, e.runID, e.graph)
		event.Message = final.Error
		m.publish(event)
	}

	if final.Status == domain.ExecutionStatusFailed && m.reporter != nil && runErr != nil {
		m.reporter.Report(context.Background(), runErr, map[string]string{
			"graph":  e.graph,
			"run_id": e.runID,
		})
	}

	if m.archiver != nil {
		actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := m.archiver.Archive(actx, final); err != nil {
			m.logger.Error("failed to archive run",
				zap.String("run_id", e.runID),
				zap.Error(err))
		}
		cancel()
	}

	m.logger.Info("run completed",
		zap.String("run_id", e.runID),
		zap.String("graph", e.graph),
		zap.String("status", string(final.Status)),
		zap.Int("ticks", final.Ticks),
		zap.Int("results", len(final.Results)),
		zap.Duration("duration", final.Duration()))
}

// onEngineEvent forwards an engine event to the bus and tracks run progress
func (m *Manager) onEngineEvent(e *execution, ev orchestration.Event) {
	switch ev.Type {
	case orchestration.EventRunBegin:
		m.update(e, func(s *domain.RunState) {
			now := ev.Timestamp
			s.Status = domain.ExecutionStatusRunning
			s.StartedAt = &now
		})
	case orchestration.EventTick:
		m.update(e, func(s *domain.RunState) { s.Ticks = ev.Tick })
	}

	m.publish(domain.EventFromEngine(e.graph, ev))
}

// update applies fn to the run state and saves it
func (m *Manager) update(e *execution, fn func(*domain.RunState)) *domain.RunState {
	e.mu.Lock()
	fn(e.state)
	snapshot := e.state.Clone()
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.storage.SaveState(ctx, snapshot); err != nil {
		m.logger.Error("failed to save state",
			zap.String("run_id", e.runID),
			zap.Error(err))
	}
	return snapshot
}

// finish records the outcome of a run
func (m *Manager) finish(e *execution, results []any, runErr error, timedOut bool) *domain.RunState {
	return m.update(e, func(s *domain.RunState) {
		now := time.Now()
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
		s.CompletedAt = &now
		s.Status = domain.StatusFromState(e.exec.State())
		s.Results = results
		s.Steps = e.exec.Steps()
		s.Properties = e.exec.Properties().Snapshot()
		if steps := len(s.Steps); steps > 0 && s.Ticks < s.Steps[steps-1].Tick {
			s.Ticks = s.Steps[steps-1].Tick
		}

		switch {
		case timedOut:
			s.Status = domain.ExecutionStatusFailed
			s.Error = fmt.Sprintf("run timeout after %s", m.runTimeout)
		case runErr != nil && s.Status != domain.ExecutionStatusCancelled:
			s.Status = domain.ExecutionStatusFailed
			s.Error = runErr.Error()
		}
	})
}

func (m *Manager) publish(event domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.eventBus.Publish(ctx, event.Topic(), event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("run_id", event.RunID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

// GetStatus retrieves the current state of a run
func (m *Manager) GetStatus(ctx context.Context, runID string) (*domain.RunState, error) {
	state, err := m.storage.GetState(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return state, nil
}

// ListRuns returns stored runs, newest first, optionally filtered by graph and
// status
func (m *Manager) ListRuns(ctx context.Context, graph string, status domain.ExecutionStatus) ([]*domain.RunState, error) {
	states, err := m.storage.ListStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}

	out := states[:0]
	for _, s := range states {
		if graph != "" && s.Graph != graph {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

// CancelRun asks a run to stop at its next tick boundary
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	val, ok := m.executions.Load(runID)
	if !ok {
		state, err := m.GetStatus(ctx, runID)
		if err != nil {
			return err
		}
		if state.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", domain.ErrRunTerminal, state.Status)
		}
		return fmt.Errorf("%w: run %s is not executing on this instance", domain.ErrRunNotFound, runID)
	}

	val.(*execution).exec.Cancel()

	m.logger.Info("run cancellation requested",
		zap.String("run_id", runID))
	return nil
}

// Wait blocks until the run finishes or ctx is done and returns its state
func (m *Manager) Wait(ctx context.Context, runID string) (*domain.RunState, error) {
	if val, ok := m.executions.Load(runID); ok {
		select {
		case <-val.(*execution).done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.GetStatus(ctx, runID)
}

// ActiveRuns returns the number of runs executing on this instance
func (m *Manager) ActiveRuns() int {
	return int(m.active.Load())
}

// Shutdown cancels every active run and waits for them to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")
	m.closed.Store(true)

	// Cancel all active executions
	m.executions.Range(func(_, value any) bool {
		value.(*execution).exec.Cancel()
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// runs stuck inside a node get their context cancelled
		m.executions.Range(func(_, value any) bool {
			value.(*execution).cancel()
			return true
		})
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}

	if m.reporter != nil {
		m.reporter.Flush(2 * time.Second)
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}
