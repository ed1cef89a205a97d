package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/ports"
)

// DefaultExchange is the topic exchange events are published to
const DefaultExchange = "tickgraph.events"

// Channel is the part of an AMQP channel the event bus uses
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Connection opens channels
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// EventBus implements EventBus on a RabbitMQ topic exchange. Topics are routing
// keys; each subscription owns an exclusive, auto-deleted queue.
type EventBus struct {
	conn     Connection
	exchange string
	logger   *zap.Logger

	mu     sync.Mutex
	pub    Channel
	subs   map[string][]Channel
	closed bool
}

// Dial connects to RabbitMQ and declares the exchange
func Dial(url, exchange string, logger *zap.Logger) (*EventBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp: %w", err)
	}

	bus, err := NewEventBus(conn, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return bus, nil
}

// NewEventBus creates an event bus on an open connection
func NewEventBus(conn *amqp.Connection, exchange string, logger *zap.Logger) (*EventBus, error) {
	return NewEventBusWithConn(amqpConn{conn}, exchange, logger)
}

// NewEventBusWithConn creates an event bus on any Connection implementation
func NewEventBusWithConn(conn Connection, exchange string, logger *zap.Logger) (*EventBus, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	logger.Info("connected to RabbitMQ", zap.String("exchange", exchange))

	return &EventBus{
		conn:     conn,
		exchange: exchange,
		logger:   logger,
		pub:      ch,
		subs:     make(map[string][]Channel),
	}, nil
}

// Publish sends an event with the topic as routing key
func (b *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("event bus closed")
	}
	if err := b.pub.PublishWithContext(ctx, b.exchange, topic, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", b.exchange, topic, err)
	}

	b.logger.Debug("event published",
		zap.String("exchange", b.exchange),
		zap.String("routing_key", topic),
		zap.String("event_id", event.ID))
	return nil
}

// Subscribe binds a private queue to the topic and consumes it until ctx is done
func (b *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, b.exchange, err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume %s: %w", q.Name, err)
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	go func() {
		defer b.remove(topic, ch)
		for d := range deliveries {
			event, err := decode(d.Body)
			if err != nil {
				b.logger.Error("failed to unmarshal event",
					zap.String("queue", q.Name),
					zap.Error(err))
				continue
			}
			if err := handler(ctx, event); err != nil {
				b.logger.Error("handler error",
					zap.String("queue", q.Name),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}()

	b.logger.Info("subscribed to event topic",
		zap.String("exchange", b.exchange),
		zap.String("routing_key", topic),
		zap.String("queue", q.Name))
	return nil
}

// remove closes a subscription channel whose deliveries ended and forgets it
func (b *EventBus) remove(topic string, ch Channel) {
	b.mu.Lock()
	chans := b.subs[topic]
	found := false
	for i, other := range chans {
		if other == ch {
			chans = append(chans[:i], chans[i+1:]...)
			found = true
			break
		}
	}
	if len(chans) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = chans
	}
	b.mu.Unlock()

	// Unsubscribe and Close already closed channels they removed
	if found {
		if err := ch.Close(); err != nil && err != amqp.ErrClosed {
			b.logger.Warn("failed to close subscription channel",
				zap.String("routing_key", topic),
				zap.Error(err))
		}
	}
}

func (b *EventBus) subscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Unsubscribe closes every subscription channel of a topic
func (b *EventBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	chans := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	for _, ch := range chans {
		if err := ch.Close(); err != nil && err != amqp.ErrClosed {
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	return nil
}

// Close closes all channels and the connection
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for topic, chans := range b.subs {
		for _, ch := range chans {
			_ = ch.Close()
		}
		delete(b.subs, topic)
	}
	_ = b.pub.Close()

	if err := b.conn.Close(); err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func encode(event domain.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.ID,
		Type:        string(event.Type),
		Timestamp:   event.Timestamp,
		Headers:     amqp.Table{"run_id": event.RunID},
		Body:        body,
	}, nil
}

func decode(body []byte) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

var _ ports.EventBus = (*EventBus)(nil)
