package orchestration

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InvokeFunc is the body of a per-input node.
type InvokeFunc[I, O any] func(ctx context.Context, props *Properties, in I) (O, error)

// BatchFunc is the body of a combined node; it receives every input queued this tick.
type BatchFunc[I, O any] func(ctx context.Context, props *Properties, in []I) (O, error)

// InitFunc runs when a node enters the active set, with the first input landing on it.
type InitFunc[I any] func(ctx context.Context, props *Properties, first I) error

// CleanupFunc runs when a node leaves the active set.
type CleanupFunc func(ctx context.Context, props *Properties) error

// Runnable is a node of an orchestration graph.
//
// The only implementation is Node; the unexported methods keep payload casting inside
// this package.
type Runnable interface {
	ID() string
	Name() string
	InputType() reflect.Type
	OutputType() reflect.Type
	Advancers() []*Advancer
	AllowsParallelAdvances() bool
	CombineInput() bool
	IsDeadEnd() bool
	Timeout() time.Duration

	addAdvancer(a *Advancer)
	invoke(ctx context.Context, props *Properties, inputs []any) (any, error)
	initialize(ctx context.Context, props *Properties, first any) error
	cleanup(ctx context.Context, props *Properties) error
}

type nodeOptions struct {
	id       string
	parallel bool
	deadEnd  bool
	timeout  time.Duration
}

// NodeOption configures a node
type NodeOption func(*nodeOptions)

// WithParallelAdvances routes an output to every matching advancer instead of the first.
func WithParallelAdvances() NodeOption {
	return func(o *nodeOptions) { o.parallel = true }
}

// AsDeadEnd lets a node produce outputs that match no advancer without being retried.
func AsDeadEnd() NodeOption {
	return func(o *nodeOptions) { o.deadEnd = true }
}

// WithTimeout bounds each invocation and hook of the node. Zero falls back to the
// orchestration default.
func WithTimeout(d time.Duration) NodeOption {
	return func(o *nodeOptions) { o.timeout = d }
}

// WithNodeID overrides the generated node id
func WithNodeID(id string) NodeOption {
	return func(o *nodeOptions) { o.id = id }
}

// Node is a typed runnable with input type I and output type O.
type Node[I, O any] struct {
	name    string
	opts    nodeOptions
	invokeF InvokeFunc[I, O]
	batchF  BatchFunc[I, O]
	initF   InitFunc[I]
	cleanF  CleanupFunc

	mu        sync.RWMutex
	advancers []*Advancer
}

// NewNode creates a per-input node: when several inputs are queued in one tick,
// fn is invoked once per input, concurrently.
func NewNode[I, O any](name string, fn InvokeFunc[I, O], opts ...NodeOption) *Node[I, O] {
	n := &Node[I, O]{name: name, invokeF: fn}
	n.apply(opts)
	return n
}

// NewBatchNode creates a combined node: fn is invoked once per tick with every
// queued input.
func NewBatchNode[I, O any](name string, fn BatchFunc[I, O], opts ...NodeOption) *Node[I, O] {
	n := &Node[I, O]{name: name, batchF: fn}
	n.apply(opts)
	return n
}

func (n *Node[I, O]) apply(opts []NodeOption) {
	for _, opt := range opts {
		opt(&n.opts)
	}
	if n.opts.id == "" {
		n.opts.id = uuid.New().String()
	}
}

// OnInitialize sets the hook run when the node enters the active set
func (n *Node[I, O]) OnInitialize(fn InitFunc[I]) *Node[I, O] {
	n.initF = fn
	return n
}

// OnCleanup sets the hook run when the node leaves the active set
func (n *Node[I, O]) OnCleanup(fn CleanupFunc) *Node[I, O] {
	n.cleanF = fn
	return n
}

func (n *Node[I, O]) ID() string                   { return n.opts.id }
func (n *Node[I, O]) Name() string                 { return n.name }
func (n *Node[I, O]) InputType() reflect.Type      { return reflect.TypeFor[I]() }
func (n *Node[I, O]) OutputType() reflect.Type     { return reflect.TypeFor[O]() }
func (n *Node[I, O]) AllowsParallelAdvances() bool { return n.opts.parallel }
func (n *Node[I, O]) CombineInput() bool           { return n.batchF != nil }
func (n *Node[I, O]) IsDeadEnd() bool              { return n.opts.deadEnd }
func (n *Node[I, O]) Timeout() time.Duration       { return n.opts.timeout }

// Advancers returns the outbound edges in registration order
func (n *Node[I, O]) Advancers() []*Advancer {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*Advancer, len(n.advancers))
	copy(out, n.advancers)
	return out
}

func (n *Node[I, O]) String() string {
	return fmt.Sprintf("%s(%s -> %s)", n.name, n.InputType(), n.OutputType())
}

func (n *Node[I, O]) addAdvancer(a *Advancer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.advancers = append(n.advancers, a)
}

func (n *Node[I, O]) invoke(ctx context.Context, props *Properties, inputs []any) (any, error) {
	if n.batchF != nil {
		batch := make([]I, 0, len(inputs))
		for _, raw := range inputs {
			in, err := cast[I](raw)
			if err != nil {
				return nil, err
			}
			batch = append(batch, in)
		}
		return n.batchF(ctx, props, batch)
	}

	if len(inputs) != 1 {
		return nil, fmt.Errorf("per-input node %s invoked with %d inputs", n.name, len(inputs))
	}
	in, err := cast[I](inputs[0])
	if err != nil {
		return nil, err
	}
	return n.invokeF(ctx, props, in)
}

func (n *Node[I, O]) initialize(ctx context.Context, props *Properties, first any) error {
	if n.initF == nil {
		return nil
	}
	in, err := cast[I](first)
	if err != nil {
		return err
	}
	return n.initF(ctx, props, in)
}

func (n *Node[I, O]) cleanup(ctx context.Context, props *Properties) error {
	if n.cleanF == nil {
		return nil
	}
	return n.cleanF(ctx, props)
}

// cast unboxes a payload, accepting nil for types that have a nil value.
func cast[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var zero T
	if v == nil {
		switch reflect.TypeFor[T]().Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return zero, nil
		}
	}
	return zero, fmt.Errorf("%w: expected %s, got %T", ErrTypeMismatch, reflect.TypeFor[T](), v)
}

// compatible reports whether values of type from can be delivered where to is declared.
func compatible(from, to reflect.Type) bool {
	return from == to || from.AssignableTo(to)
}
