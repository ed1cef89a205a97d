package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryConsumeAttempt(t *testing.T) {
	p := Process{ID: "p", Input: "x", MaxAttempts: 3}

	next, ok := TryConsumeAttempt(p)
	assert.True(t, ok)
	assert.Equal(t, 1, next.Attempts)
	assert.Equal(t, 0, p.Attempts)
	assert.Equal(t, "p", next.ID)
	assert.Equal(t, "x", next.Input)

	next, ok = TryConsumeAttempt(next)
	assert.True(t, ok)
	assert.Equal(t, 2, next.Attempts)

	next, ok = TryConsumeAttempt(next)
	assert.False(t, ok)
	assert.Equal(t, 3, next.Attempts)
}

func TestNewProcessDefaultsMaxAttempts(t *testing.T) {
	p := NewProcess(nil, "x", 0)
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.NotEmpty(t, p.ID)
	assert.NotEqual(t, p.ID, NewProcess(nil, "x", 0).ID)
}

func TestStateTransitions(t *testing.T) {
	assert.NoError(t, transition(StateUninitialized, StateRunning))
	assert.NoError(t, transition(StateRunning, StateCancelled))
	assert.NoError(t, transition(StateFailed, StateUninitialized))
	assert.ErrorIs(t, transition(StateUninitialized, StateCompleted), ErrInvalidTransition)
	assert.ErrorIs(t, transition(StateCompleted, StateRunning), ErrInvalidTransition)

	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
}

func TestCast(t *testing.T) {
	s, err := cast[string]("x")
	require.NoError(t, err)
	assert.Equal(t, "x", s)

	_, err = cast[string](1)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	var p *int
	p, err = cast[*int](nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = cast[int](nil)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	v, err := cast[any](nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestGroupExecutorKeepsPerTaskErrors(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error { panic("bad") },
	}

	errs := NewGroupExecutor(0).Execute(context.Background(), tasks)
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.ErrorContains(t, errs[2], "panic: bad")
}

func TestGroupExecutorLimit(t *testing.T) {
	var running, peak atomic.Int32
	tasks := make([]Task, 8)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}
	}

	errs := NewGroupExecutor(2).Execute(context.Background(), tasks)
	assert.Len(t, errs, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCallWithTimeout(t *testing.T) {
	v, err := callWithTimeout(context.Background(), time.Second, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = callWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, ErrNodeTimeout)

	_, err = callWithTimeout(context.Background(), time.Second, func(ctx context.Context) (any, error) {
		panic("inner")
	})
	assert.ErrorContains(t, err, "panic: inner")
}

func TestBroadcasterDeliversInOrder(t *testing.T) {
	b := NewBroadcaster()

	var got []string
	b.Subscribe(func(e Event) { got = append(got, "first:"+string(e.Type)) })
	unsubscribe := b.Subscribe(func(e Event) { got = append(got, "second:"+string(e.Type)) })

	b.Publish(Event{Type: EventTick})
	unsubscribe()
	unsubscribe()
	b.Publish(Event{Type: EventFinished})

	assert.Equal(t, []string{"first:run.tick", "second:run.tick", "first:run.finished"}, got)
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroadcasterChannel(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())

	ch := b.Channel(ctx, 4)
	b.Publish(Event{Type: EventRunBegin})
	b.Publish(Event{Type: EventFinished})

	assert.Equal(t, EventRunBegin, (<-ch).Type)
	e := <-ch
	assert.Equal(t, EventFinished, e.Type)
	assert.True(t, e.IsTerminal())

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, time.Millisecond)
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Channel(context.Background(), 0)

	b.Close()
	b.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())

	b.Subscribe(func(Event) {})
	assert.Equal(t, 0, b.Subscribers())
}

func TestPropertiesConcurrentUpdate(t *testing.T) {
	p := NewProperties()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Update("n", func(old any, ok bool) any {
				n, _ := old.(int)
				return n + 1
			})
		}()
	}
	wg.Wait()

	n, ok := PropertyAs[int](p, "n")
	require.True(t, ok)
	assert.Equal(t, 50, n)

	_, ok = PropertyAs[string](p, "n")
	assert.False(t, ok)

	p.Set("a", 1)
	snapshot := p.Snapshot()
	p.Delete("a")
	assert.Equal(t, 1, snapshot["a"])
	assert.Equal(t, []string{"n"}, p.Keys())

	p.reset()
	assert.Zero(t, p.Len())
}
