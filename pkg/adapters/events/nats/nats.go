package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/ports"
)

// ConnectionConfig holds configuration for the NATS connection
type ConnectionConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Token         string
	Username      string
	Password      string
}

// Connect establishes a connection to NATS, honouring ctx while dialing
func Connect(ctx context.Context, config ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("NATS URL cannot be empty")
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.Timeout(config.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	if config.Token != "" {
		opts = append(opts, nats.Token(config.Token))
	} else if config.Username != "" && config.Password != "" {
		opts = append(opts, nats.UserInfo(config.Username, config.Password))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		conn, err := nats.Connect(config.URL, opts...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		return res.conn, nil
	}
}

// Conn is the part of a NATS connection the event bus uses
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	Subscribe(subject string, cb nats.MsgHandler) (Subscription, error)
	Drain() error
	Close()
	IsClosed() bool
}

// Subscription is a live subject subscription
type Subscription interface {
	Unsubscribe() error
}

type natsConn struct {
	*nats.Conn
}

func (c natsConn) Subscribe(subject string, cb nats.MsgHandler) (Subscription, error) {
	sub, err := c.Conn.Subscribe(subject, cb)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// EventBus implements EventBus over core NATS subjects
type EventBus struct {
	conn   Conn
	prefix string
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string][]*subscriber
}

type subscriber struct {
	sub  Subscription
	stop chan struct{}
	once sync.Once
}

func (s *subscriber) close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.sub.Unsubscribe()
	})
	return err
}

// NewEventBus creates an event bus publishing to "<prefix>.<topic>" subjects
func NewEventBus(conn *nats.Conn, prefix string, logger *zap.Logger) *EventBus {
	if conn == nil {
		return NewEventBusWithConn(nil, prefix, logger)
	}
	return NewEventBusWithConn(natsConn{conn}, prefix, logger)
}

// NewEventBusWithConn creates an event bus on any Conn implementation
func NewEventBusWithConn(conn Conn, prefix string, logger *zap.Logger) *EventBus {
	if prefix == "" {
		prefix = "tickgraph"
	}
	return &EventBus{
		conn:   conn,
		prefix: prefix,
		logger: logger,
		subs:   make(map[string][]*subscriber),
	}
}

// Publish sends an event on the topic's subject
func (b *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(b.subject(topic))
	msg.Data = data
	msg.Header.Set("Event-Type", string(event.Type))
	msg.Header.Set("Run-Id", event.RunID)

	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe delivers events from the topic's subject until ctx is done
func (b *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	subject := b.subject(topic)

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event domain.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Error("failed to unmarshal event",
				zap.String("subject", subject),
				zap.Error(err))
			return
		}
		if err := handler(ctx, event); err != nil {
			b.logger.Error("handler error",
				zap.String("subject", subject),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	s := &subscriber{sub: sub, stop: make(chan struct{})}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.close()
			b.remove(topic, s)
		case <-s.stop:
		}
	}()

	b.logger.Info("subscribed to event subject", zap.String("subject", subject))
	return nil
}

func (b *EventBus) remove(topic string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, other := range subs {
		if other == s {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = subs
	}
}

func (b *EventBus) subscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Unsubscribe removes every subscription on a topic
func (b *EventBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	subs := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.close(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}
	}
	return nil
}

// Close drains the connection, letting in-flight messages complete
func (b *EventBus) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}

	b.mu.Lock()
	var subs []*subscriber
	for topic, topicSubs := range b.subs {
		subs = append(subs, topicSubs...)
		delete(b.subs, topic)
	}
	b.mu.Unlock()

	err := b.conn.Drain()
	// Drain unsubscribes on its own; this only releases the watchers
	for _, s := range subs {
		_ = s.close()
	}
	if err != nil {
		b.conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}

func (b *EventBus) subject(topic string) string {
	return b.prefix + "." + topic
}

var _ ports.EventBus = (*EventBus)(nil)
