package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/ports"
)

const keyPrefix = "tickgraph:state:"

// StateStorage implements StateStorage using Redis JSON values with a TTL
type StateStorage struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStateStorage creates a new Redis state storage. A zero ttl keeps states forever.
func NewStateStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StateStorage {
	return &StateStorage{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveState saves run state to Redis
func (s *StateStorage) SaveState(ctx context.Context, state *domain.RunState) error {
	if state == nil || state.RunID == "" {
		return fmt.Errorf("invalid state: run id is required")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.client.Set(ctx, getStateKey(state.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	s.logger.Debug("state saved",
		zap.String("run_id", state.RunID),
		zap.String("status", string(state.Status)))

	return nil
}

// GetState retrieves run state from Redis
func (s *StateStorage) GetState(ctx context.Context, runID string) (*domain.RunState, error) {
	data, err := s.client.Get(ctx, getStateKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// DeleteState deletes run state from Redis
func (s *StateStorage) DeleteState(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, getStateKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}

	s.logger.Debug("state deleted", zap.String("run_id", runID))
	return nil
}

// ListStates lists all stored runs, oldest submission first
func (s *StateStorage) ListStates(ctx context.Context) ([]*domain.RunState, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	states := make([]*domain.RunState, 0, len(keys))
	for _, key := range keys {
		state, err := s.GetState(ctx, strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			// expired between SCAN and GET
			if errors.Is(err, domain.ErrRunNotFound) {
				continue
			}
			s.logger.Warn("skipping unreadable state", zap.String("key", key), zap.Error(err))
			continue
		}
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].SubmittedAt.Before(states[j].SubmittedAt)
	})
	return states, nil
}

func getStateKey(runID string) string {
	return keyPrefix + runID
}

var _ ports.StateStorage = (*StateStorage)(nil)
