package orchestration

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work scheduled by a tick: a node invocation or a hook.
type Task func(ctx context.Context) error

// Executor runs a batch of tasks and waits for all of them.
//
// The returned slice has one slot per task, in task order. Execute must not stop
// early when a task fails.
type Executor interface {
	Execute(ctx context.Context, tasks []Task) []error
}

// GroupExecutor runs each batch on an errgroup, optionally bounded.
type GroupExecutor struct {
	limit int
}

// NewGroupExecutor creates an executor running at most limit tasks at once.
// A limit of zero or less means unbounded.
func NewGroupExecutor(limit int) *GroupExecutor {
	return &GroupExecutor{limit: limit}
}

func (e *GroupExecutor) Execute(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))

	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, task := range tasks {
		g.Go(func() error {
			errs[i] = RunTask(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	return errs
}

// RunTask calls task, turning a panic into an error.
func RunTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}

type callResult struct {
	value any
	err   error
}

// callWithTimeout runs fn and gives up after d. The abandoned call keeps running
// with a cancelled context; its result is discarded. d <= 0 disables the bound.
func callWithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if d <= 0 {
		return safeCall(ctx, fn)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		v, err := safeCall(tctx, fn)
		done <- callResult{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrNodeTimeout, d)
	}
}

func safeCall(ctx context.Context, fn func(ctx context.Context) (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
