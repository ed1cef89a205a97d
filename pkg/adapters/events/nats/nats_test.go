package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
)

// mockConn is an in-memory Conn delivering published messages synchronously
type mockConn struct {
	mu        sync.Mutex
	subs      map[string][]*mockSub
	published []*nats.Msg
	closed    bool
}

type mockSub struct {
	conn    *mockConn
	subject string
	cb      nats.MsgHandler
}

func newMockConn() *mockConn {
	return &mockConn{subs: make(map[string][]*mockSub)}
}

func (m *mockConn) PublishMsg(msg *nats.Msg) error {
	m.mu.Lock()
	m.published = append(m.published, msg)
	callbacks := make([]nats.MsgHandler, 0, len(m.subs[msg.Subject]))
	for _, s := range m.subs[msg.Subject] {
		callbacks = append(callbacks, s.cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(msg)
	}
	return nil
}

func (m *mockConn) Subscribe(subject string, cb nats.MsgHandler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &mockSub{conn: m, subject: subject, cb: cb}
	m.subs[subject] = append(m.subs[subject], s)
	return s, nil
}

func (m *mockConn) Drain() error {
	m.Close()
	return nil
}

func (m *mockConn) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string][]*mockSub)
}

func (m *mockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) active(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[subject])
}

func (s *mockSub) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	subs := s.conn.subs[s.subject]
	for i, other := range subs {
		if other == s {
			s.conn.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			return nil
		}
	}
	return nats.ErrBadSubscription
}

func TestSubjectUsesPrefix(t *testing.T) {
	assert.Equal(t, "tickgraph.run.events", NewEventBus(nil, "", zap.NewNop()).subject("run.events"))
	assert.Equal(t, "prod.node.events", NewEventBus(nil, "prod", zap.NewNop()).subject("node.events"))
}

func TestConnectRejectsEmptyURL(t *testing.T) {
	_, err := Connect(context.Background(), ConnectionConfig{}, zap.NewNop())
	require.Error(t, err)
}

func TestConnectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, ConnectionConfig{
		URL:     "nats://127.0.0.1:1",
		Timeout: time.Second,
	}, zap.NewNop())
	require.Error(t, err)
}

func TestCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, NewEventBus(nil, "", zap.NewNop()).Close())
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	conn := newMockConn()
	bus := NewEventBusWithConn(conn, "", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []domain.Event
	require.NoError(t, bus.Subscribe(ctx, domain.TopicRunEvents, func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	}))

	event := domain.NewEvent(domain.EventTypeRunSubmitted, "run-1", "echo")
	require.NoError(t, bus.Publish(ctx, domain.TopicRunEvents, event))
	require.NoError(t, bus.Publish(ctx, domain.TopicNodeEvents, domain.NewEvent(domain.EventTypeRunSubmitted, "run-2", "echo")))

	mu.Lock()
	require.Len(t, received, 1)
	assert.Equal(t, event.ID, received[0].ID)
	assert.Equal(t, "run-1", received[0].RunID)
	mu.Unlock()

	require.Len(t, conn.published, 2)
	assert.Equal(t, "tickgraph.run.events", conn.published[0].Subject)
	assert.Equal(t, "run.submitted", conn.published[0].Header.Get("Event-Type"))
	assert.Equal(t, "run-1", conn.published[0].Header.Get("Run-Id"))
}

func TestSubscriptionRemovedWhenContextEnds(t *testing.T) {
	conn := newMockConn()
	bus := NewEventBusWithConn(conn, "", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	calls := 0
	handler := func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Subscribe(ctx, domain.TopicRunEvents, handler))
	}
	require.NoError(t, bus.Subscribe(context.Background(), domain.TopicNodeEvents, handler))
	assert.Equal(t, 3, bus.subscriberCount(domain.TopicRunEvents))

	cancel()

	assert.Eventually(t, func() bool {
		return bus.subscriberCount(domain.TopicRunEvents) == 0 && conn.active("tickgraph.run.events") == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, bus.subscriberCount(domain.TopicNodeEvents))

	require.NoError(t, bus.Publish(context.Background(), domain.TopicRunEvents, domain.NewEvent(domain.EventTypeRunSubmitted, "run-1", "echo")))
	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()
}

func TestUnsubscribeRemovesTopic(t *testing.T) {
	conn := newMockConn()
	bus := NewEventBusWithConn(conn, "", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, bus.Subscribe(ctx, domain.TopicRunEvents, func(ctx context.Context, e domain.Event) error { return nil }))
	require.NoError(t, bus.Unsubscribe(ctx, domain.TopicRunEvents))

	assert.Zero(t, bus.subscriberCount(domain.TopicRunEvents))
	assert.Zero(t, conn.active("tickgraph.run.events"))
}

func TestCloseDrainsConnection(t *testing.T) {
	conn := newMockConn()
	bus := NewEventBusWithConn(conn, "", zap.NewNop())

	require.NoError(t, bus.Subscribe(context.Background(), domain.TopicRunEvents, func(ctx context.Context, e domain.Event) error { return nil }))
	require.NoError(t, bus.Close())

	assert.True(t, conn.IsClosed())
	assert.Zero(t, bus.subscriberCount(domain.TopicRunEvents))
	assert.NoError(t, bus.Close())
}
