package orchestration

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Executable is the type-erased view of an orchestration used by callers that
// pick graphs at runtime.
type Executable interface {
	Name() string
	InputType() reflect.Type
	OutputType() reflect.Type
	Entry() Runnable
	ResultNode() Runnable
	Runnables() []Runnable
	Validate() error
	RunAny(ctx context.Context, input any) ([]any, error)
	Cancel()
	Reset() error
	State() State
	RunID() string
	Steps() []Step
	ResultsAny() []any
	Properties() *Properties
	Subscribe(fn Handler) func()
}

// Orchestration runs a graph of runnables from an entry node of input type I and
// collects the outputs of a result node of output type O.
type Orchestration[I, O any] struct {
	name   string
	opts   options
	events *Broadcaster
	props  *Properties

	mu       sync.RWMutex
	registry map[string]Runnable
	order    []Runnable
	entry    Runnable
	result   Runnable
	state    State
	runID    string
	steps    []Step
	results  []O

	cancelled atomic.Bool
}

// New creates an orchestration named name
func New[I, O any](name string, opts ...Option) *Orchestration[I, O] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.executor == nil {
		o.executor = NewGroupExecutor(o.concurrency)
	}

	return &Orchestration[I, O]{
		name:     name,
		opts:     o,
		events:   NewBroadcaster(),
		props:    NewProperties(),
		registry: make(map[string]Runnable),
		state:    StateUninitialized,
	}
}

func (o *Orchestration[I, O]) Name() string             { return o.name }
func (o *Orchestration[I, O]) InputType() reflect.Type  { return reflect.TypeFor[I]() }
func (o *Orchestration[I, O]) OutputType() reflect.Type { return reflect.TypeFor[O]() }

// Register adds runnables to the registry. Names must be unique.
func (o *Orchestration[I, O]) Register(rs ...Runnable) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, r := range rs {
		if err := o.registerLocked(r); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestration[I, O]) registerLocked(r Runnable) error {
	if r == nil {
		return ErrNilRunnable
	}
	if existing, ok := o.registry[r.Name()]; ok {
		if existing.ID() == r.ID() {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateRunnable, r.Name())
	}
	o.registry[r.Name()] = r
	o.order = append(o.order, r)
	return nil
}

// SetEntry designates the node that receives the run input. Its input type must
// accept I. The node is registered if it is not already.
func (o *Orchestration[I, O]) SetEntry(r Runnable) error {
	if r == nil {
		return ErrNilRunnable
	}
	if !compatible(o.InputType(), r.InputType()) {
		return fmt.Errorf("%w: orchestration %s takes %s, entry %s expects %s",
			ErrTypeMismatch, o.name, o.InputType(), r.Name(), r.InputType())
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.registerLocked(r); err != nil {
		return err
	}
	o.entry = r
	return nil
}

// SetResult designates the node whose outputs are collected. Its output type must
// be assignable to O. The node is registered if it is not already.
func (o *Orchestration[I, O]) SetResult(r Runnable) error {
	if r == nil {
		return ErrNilRunnable
	}
	if !compatible(r.OutputType(), o.OutputType()) {
		return fmt.Errorf("%w: result %s outputs %s, orchestration %s returns %s",
			ErrTypeMismatch, r.Name(), r.OutputType(), o.name, o.OutputType())
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.registerLocked(r); err != nil {
		return err
	}
	o.result = r
	return nil
}

// Entry returns the entry node, or nil
func (o *Orchestration[I, O]) Entry() Runnable {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.entry
}

// ResultNode returns the result node, or nil
func (o *Orchestration[I, O]) ResultNode() Runnable {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.result
}

// Runnables returns the registered nodes in registration order
func (o *Orchestration[I, O]) Runnables() []Runnable {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Runnable, len(o.order))
	copy(out, o.order)
	return out
}

// Runnable looks a registered node up by name
func (o *Orchestration[I, O]) Runnable(name string) (Runnable, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	r, ok := o.registry[name]
	return r, ok
}

// Validate checks that an entry is set and that every node reachable from it is
// registered.
func (o *Orchestration[I, O]) Validate() error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.validateLocked()
}

func (o *Orchestration[I, O]) validateLocked() error {
	if o.entry == nil {
		return ErrNoEntry
	}

	seen := map[string]bool{o.entry.ID(): true}
	queue := []Runnable{o.entry}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]

		if registered, ok := o.registry[r.Name()]; !ok || registered.ID() != r.ID() {
			return fmt.Errorf("%w: %s", ErrUnknownRunnable, r.Name())
		}
		for _, adv := range r.Advancers() {
			next := adv.Next()
			if !seen[next.ID()] {
				seen[next.ID()] = true
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// Run drives the graph from input until no process is left, the run is cancelled or
// a fault stops it. It returns the outputs collected from the result node, also on
// cancellation and failure.
func (o *Orchestration[I, O]) Run(ctx context.Context, input I) ([]O, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	err := o.loop(ctx, input)
	return o.Results(), err
}

// RunAny is Run with a boxed input
func (o *Orchestration[I, O]) RunAny(ctx context.Context, input any) ([]any, error) {
	in, err := cast[I](input)
	if err != nil {
		return nil, err
	}
	if _, err := o.Run(ctx, in); err != nil {
		return o.ResultsAny(), err
	}
	return o.ResultsAny(), nil
}

// begin resets a finished run and moves to running.
func (o *Orchestration[I, O]) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateRunning {
		return ErrAlreadyRunning
	}
	if err := o.validateLocked(); err != nil {
		return err
	}
	if o.state.IsTerminal() {
		o.resetLocked()
	}
	if err := transition(o.state, StateRunning); err != nil {
		return err
	}

	o.state = StateRunning
	o.runID = o.opts.runID
	if o.runID == "" {
		o.runID = newRunID()
	}
	return nil
}

// Cancel asks the current run to stop at the next tick boundary. Ticks in flight
// run to completion. A Cancel issued while no run is in progress stays pending
// and stops the next run after its first tick; Reset drops it.
func (o *Orchestration[I, O]) Cancel() {
	o.cancelled.Store(true)
}

// Reset clears results, steps and properties of a finished run.
func (o *Orchestration[I, O]) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateRunning {
		return ErrAlreadyRunning
	}
	o.cancelled.Store(false)
	if o.state == StateUninitialized {
		return nil
	}
	o.resetLocked()
	return nil
}

func (o *Orchestration[I, O]) resetLocked() {
	o.state = StateUninitialized
	o.steps = nil
	o.results = nil
	o.props.reset()
}

func (o *Orchestration[I, O]) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// RunID returns the id of the current or last run
func (o *Orchestration[I, O]) RunID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runID
}

// Steps returns the step log. Empty unless WithStepLog is enabled.
func (o *Orchestration[I, O]) Steps() []Step {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Step, len(o.steps))
	copy(out, o.steps)
	return out
}

// Results returns the outputs collected from the result node so far
func (o *Orchestration[I, O]) Results() []O {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]O, len(o.results))
	copy(out, o.results)
	return out
}

func (o *Orchestration[I, O]) ResultsAny() []any {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]any, len(o.results))
	for i, r := range o.results {
		out[i] = r
	}
	return out
}

// Properties returns the run-scoped key/value store
func (o *Orchestration[I, O]) Properties() *Properties {
	return o.props
}

// Events returns the broadcaster carrying this orchestration's events
func (o *Orchestration[I, O]) Events() *Broadcaster {
	return o.events
}

// Subscribe registers fn for every event and returns its unsubscribe function.
func (o *Orchestration[I, O]) Subscribe(fn Handler) func() {
	return o.events.Subscribe(fn)
}

func (o *Orchestration[I, O]) setState(to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := transition(o.state, to); err != nil {
		return err
	}
	o.state = to
	// a cancel request ends with the run it stopped
	if to.IsTerminal() {
		o.cancelled.Store(false)
	}
	return nil
}

func (o *Orchestration[I, O]) collect(output any) error {
	v, err := cast[O](output)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.results = append(o.results, v)
	return nil
}

func (o *Orchestration[I, O]) record(step Step) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.steps = append(o.steps, step)
}

func (o *Orchestration[I, O]) isResult(r Runnable) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.result != nil && o.result.ID() == r.ID()
}

var _ Executable = (*Orchestration[string, string])(nil)
