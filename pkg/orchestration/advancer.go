package orchestration

import "fmt"

// Advancer is one outbound edge of a runnable: a predicate over the node's output,
// an optional converter and the runnable that receives the payload.
type Advancer struct {
	next    Runnable
	when    func(any) bool
	convert func(any) (any, error)
}

// Next returns the destination runnable
func (a *Advancer) Next() Runnable {
	return a.next
}

// Matches reports whether output is routed along this edge. An edge without a
// predicate matches everything. A panicking predicate does not match.
func (a *Advancer) Matches(output any) (ok bool) {
	if a.when == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return a.when(output)
}

// Payload returns the value delivered to the next runnable for output.
func (a *Advancer) Payload(output any) (payload any, err error) {
	if a.convert == nil {
		return output, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("converter panic: %v", r)
		}
	}()
	return a.convert(output)
}

// Route adds an edge from one node to another whose input type is the first node's
// output type. A nil predicate always matches.
func Route[I, O, X any](from *Node[I, O], to *Node[O, X], when func(O) bool) error {
	if from == nil || to == nil {
		return ErrNilRunnable
	}
	from.addAdvancer(&Advancer{next: to, when: typedPredicate(when)})
	return nil
}

// RouteVia adds an edge whose payload is reshaped by convert before delivery.
func RouteVia[I, O, N, X any](from *Node[I, O], to *Node[N, X], when func(O) bool, convert func(O) (N, error)) error {
	if from == nil || to == nil {
		return ErrNilRunnable
	}
	if convert == nil {
		return fmt.Errorf("route %s -> %s: converter is nil", from.Name(), to.Name())
	}
	adv := &Advancer{next: to, when: typedPredicate(when)}
	adv.convert = func(v any) (any, error) {
		out, err := cast[O](v)
		if err != nil {
			return nil, err
		}
		return convert(out)
	}
	from.addAdvancer(adv)
	return nil
}

// Connect adds an untyped edge. Without a converter the output type of from must be
// assignable to the input type of to.
func Connect(from, to Runnable, when func(any) bool, convert func(any) (any, error)) error {
	if from == nil || to == nil {
		return ErrNilRunnable
	}
	if convert == nil && !compatible(from.OutputType(), to.InputType()) {
		return fmt.Errorf("%w: %s outputs %s, %s expects %s",
			ErrTypeMismatch, from.Name(), from.OutputType(), to.Name(), to.InputType())
	}
	from.addAdvancer(&Advancer{next: to, when: when, convert: convert})
	return nil
}

func typedPredicate[O any](when func(O) bool) func(any) bool {
	if when == nil {
		return nil
	}
	return func(v any) bool {
		out, err := cast[O](v)
		if err != nil {
			return false
		}
		return when(out)
	}
}
