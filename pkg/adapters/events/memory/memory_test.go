package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	var got []string
	require.NoError(t, bus.Subscribe(ctx, domain.TopicRunEvents, func(ctx context.Context, e domain.Event) error {
		got = append(got, "a:"+e.Message)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, domain.TopicRunEvents, func(ctx context.Context, e domain.Event) error {
		got = append(got, "b:"+e.Message)
		return errors.New("ignored")
	}))
	require.NoError(t, bus.Subscribe(ctx, domain.TopicNodeEvents, func(ctx context.Context, e domain.Event) error {
		got = append(got, "node:"+e.Message)
		return nil
	}))

	for _, msg := range []string{"1", "2"} {
		e := domain.NewEvent(domain.EventTypeRunSubmitted, "run", "echo")
		e.Message = msg
		require.NoError(t, bus.Publish(ctx, domain.TopicRunEvents, e))
	}

	assert.Equal(t, []string{"a:1", "b:1", "a:2", "b:2"}, got)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	require.NoError(t, bus.Subscribe(ctx, domain.TopicRunEvents, func(ctx context.Context, e domain.Event) error {
		calls++
		return nil
	}))
	require.NoError(t, bus.Publish(context.Background(), domain.TopicRunEvents, domain.Event{}))

	cancel()
	require.NoError(t, bus.Publish(context.Background(), domain.TopicRunEvents, domain.Event{}))
	assert.Equal(t, 1, calls)
	assert.Eventually(t, func() bool { return bus.Subscribers(domain.TopicRunEvents) == 0 }, time.Second, time.Millisecond)
}

func TestUnsubscribeAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()
	noop := func(ctx context.Context, e domain.Event) error { return nil }

	require.NoError(t, bus.Subscribe(ctx, domain.TopicRunEvents, noop))
	require.NoError(t, bus.Subscribe(ctx, domain.TopicNodeEvents, noop))

	require.NoError(t, bus.Unsubscribe(ctx, domain.TopicRunEvents))
	assert.Equal(t, 0, bus.Subscribers(domain.TopicRunEvents))
	assert.Equal(t, 1, bus.Subscribers(domain.TopicNodeEvents))

	require.NoError(t, bus.Close())
	assert.Equal(t, 0, bus.Subscribers(domain.TopicNodeEvents))
}
