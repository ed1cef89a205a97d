package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

func newStorage(t *testing.T, ttl time.Duration) (*StateStorage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStateStorage(client, ttl, zap.NewNop()), mr
}

func TestSaveAndGetState(t *testing.T) {
	s, mr := newStorage(t, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	state := &domain.RunState{
		RunID:       "run-1",
		Graph:       "text",
		Status:      domain.ExecutionStatusCompleted,
		Results:     []any{"done"},
		Ticks:       3,
		Steps:       []orchestration.Step{{Tick: 1, Nodes: []orchestration.StepNode{{NodeName: "a"}}}},
		SubmittedAt: now,
		CompletedAt: &now,
	}
	require.NoError(t, s.SaveState(ctx, state))

	assert.True(t, mr.Exists("tickgraph:state:run-1"))
	assert.Equal(t, time.Hour, mr.TTL("tickgraph:state:run-1"))

	got, err := s.GetState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "text", got.Graph)
	assert.Equal(t, domain.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, []any{"done"}, got.Results)
	assert.Equal(t, "a", got.Steps[0].Nodes[0].NodeName)
	assert.True(t, now.Equal(*got.CompletedAt))
}

func TestGetMissingState(t *testing.T) {
	s, _ := newStorage(t, 0)

	_, err := s.GetState(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestStateExpires(t *testing.T) {
	s, mr := newStorage(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, &domain.RunState{RunID: "run-1"}))
	mr.FastForward(2 * time.Minute)

	_, err := s.GetState(ctx, "run-1")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestListAndDeleteStates(t *testing.T) {
	s, _ := newStorage(t, 0)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.SaveState(ctx, &domain.RunState{RunID: id, SubmittedAt: now.Add(time.Duration(i) * time.Second)}))
	}

	states, err := s.ListStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, "c", states[0].RunID)
	assert.Equal(t, "b", states[2].RunID)

	require.NoError(t, s.DeleteState(ctx, "a"))
	states, err = s.ListStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}
