package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/ports"
)

// InMemoryStateStorage implements StateStorage using an in-memory map
type InMemoryStateStorage struct {
	states map[string]*domain.RunState
	mu     sync.RWMutex
}

// NewInMemoryStateStorage creates a new in-memory state storage
func NewInMemoryStateStorage() *InMemoryStateStorage {
	return &InMemoryStateStorage{
		states: make(map[string]*domain.RunState),
	}
}

// SaveState stores a copy of state
func (s *InMemoryStateStorage) SaveState(ctx context.Context, state *domain.RunState) error {
	if state == nil || state.RunID == "" {
		return fmt.Errorf("invalid state: run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.RunID] = state.Clone()
	return nil
}

// GetState returns a copy of the stored state
func (s *InMemoryStateStorage) GetState(ctx context.Context, runID string) (*domain.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return state.Clone(), nil
}

// DeleteState removes a run
func (s *InMemoryStateStorage) DeleteState(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, runID)
	return nil
}

// ListStates returns every stored run, oldest submission first
func (s *InMemoryStateStorage) ListStates(ctx context.Context) ([]*domain.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*domain.RunState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state.Clone())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].SubmittedAt.Before(states[j].SubmittedAt)
	})
	return states, nil
}

var _ ports.StateStorage = (*InMemoryStateStorage)(nil)
