package orchestration

import (
	"context"
	"sync"
	"time"
)

// EventType tags a lifecycle notification.
type EventType string

const (
	EventRunBegin     EventType = "run.begin"
	EventTick         EventType = "run.tick"
	EventVerbose      EventType = "run.verbose"
	EventNodeStarted  EventType = "node.started"
	EventNodeFinished EventType = "node.finished"
	EventNodeError    EventType = "node.error"
	EventCancelled    EventType = "run.cancelled"
	EventFinished     EventType = "run.finished"
	EventFailed       EventType = "run.failed"
)

// Event is a lifecycle notification emitted by a run.
type Event struct {
	Type          EventType `json:"type"`
	Orchestration string    `json:"orchestration"`
	RunID         string    `json:"run_id"`
	Tick          int       `json:"tick"`
	NodeID        string    `json:"node_id,omitempty"`
	NodeName      string    `json:"node_name,omitempty"`
	ProcessID     string    `json:"process_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	Err           error     `json:"-"`
	Timestamp     time.Time `json:"timestamp"`
}

// IsTerminal reports whether e is the last event of its run.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventCancelled, EventFinished, EventFailed:
		return true
	}
	return false
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Broadcaster fans events out to any number of subscribers.
//
// Publish delivers synchronously, in subscription order, and returns once every
// handler has returned. Handlers must not subscribe or unsubscribe from inside
// a delivery.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{done: make(chan struct{})}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster) Subscribe(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || fn == nil {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Channel returns a channel receiving every event published until ctx is done or
// the broadcaster is closed; the channel is then closed. A full channel blocks
// publishers.
func (b *Broadcaster) Channel(ctx context.Context, buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	stop := make(chan struct{})

	unsubscribe := b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		case <-stop:
		case <-b.done:
		}
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		close(stop)
		unsubscribe()
		close(ch)
	}()

	return ch
}

// Publish delivers e to every subscriber
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		s.fn(e)
	}
}

// Subscribers returns the number of registered handlers
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Close drops every subscriber and closes channels returned by Channel.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = nil
}
