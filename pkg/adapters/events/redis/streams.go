package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/ports"
)

const (
	defaultPrefix = "tickgraph:events"
	readBlock     = time.Second
	readCount     = 50
)

// StreamsEventBus implements EventBus using Redis Streams.
//
// Every subscriber reads the stream independently from the entry that was last
// when it subscribed, so each subscriber sees every later event.
type StreamsEventBus struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
	maxLen int64

	mu      sync.Mutex
	readers map[string][]*reader
	wg      sync.WaitGroup
}

type reader struct {
	cancel context.CancelFunc
}

// NewStreamsEventBus creates a new Redis Streams event bus. maxLen caps every
// stream approximately; zero keeps all entries.
func NewStreamsEventBus(client *redis.Client, prefix string, maxLen int64, logger *zap.Logger) *StreamsEventBus {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &StreamsEventBus{
		client:  client,
		logger:  logger,
		prefix:  prefix,
		maxLen:  maxLen,
		readers: make(map[string][]*reader),
	}
}

// Publish appends an event to the topic's stream
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := e.streamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("run_id", event.RunID),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe reads events appended to the topic's stream after this call
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := e.streamKey(topic)

	lastID, err := e.lastID(ctx, streamKey)
	if err != nil {
		return err
	}

	subCtx, cancel := context.WithCancel(ctx)
	r := &reader{cancel: cancel}
	e.mu.Lock()
	e.readers[topic] = append(e.readers[topic], r)
	e.mu.Unlock()

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("from_id", lastID))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.remove(topic, r)
		e.readStream(subCtx, streamKey, lastID, handler)
	}()

	return nil
}

// remove drops a reader once it stops, whichever context ended it
func (e *StreamsEventBus) remove(topic string, r *reader) {
	r.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	readers := e.readers[topic]
	for i, other := range readers {
		if other == r {
			readers = append(readers[:i], readers[i+1:]...)
			break
		}
	}
	if len(readers) == 0 {
		delete(e.readers, topic)
	} else {
		e.readers[topic] = readers
	}
}

// readerCount reports the live readers of a topic
func (e *StreamsEventBus) readerCount(topic string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.readers[topic])
}

func (e *StreamsEventBus) lastID(ctx context.Context, streamKey string) (string, error) {
	msgs, err := e.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("failed to read stream tail: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (e *StreamsEventBus) readStream(ctx context.Context, streamKey, lastID string, handler ports.EventHandler) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := e.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastID = message.ID
				e.processMessage(ctx, streamKey, message, handler)
			}
		}
	}
}

func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Unsubscribe stops every reader of a topic
func (e *StreamsEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	readers := e.readers[topic]
	delete(e.readers, topic)
	e.mu.Unlock()

	for _, r := range readers {
		r.cancel()
	}
	return nil
}

// Close stops all readers and waits for them. The Redis client is closed by the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	for topic, readers := range e.readers {
		for _, r := range readers {
			r.cancel()
		}
		delete(e.readers, topic)
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

func (e *StreamsEventBus) streamKey(topic string) string {
	return fmt.Sprintf("%s:%s", e.prefix, topic)
}

var _ ports.EventBus = (*StreamsEventBus)(nil)
