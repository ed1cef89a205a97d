package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// entry is one member of the active set: a node and the processes queued on it.
type entry struct {
	runnable  Runnable
	processes []*Process
}

// invocation is one call of a node function. Combined nodes get a single
// invocation carrying every queued process.
type invocation struct {
	runnable  Runnable
	processes []*Process
	output    any
	err       error
}

func newRunID() string {
	return uuid.New().String()
}

func (o *Orchestration[I, O]) loop(ctx context.Context, input I) error {
	runID := o.RunID()
	logger := o.opts.logger.With(zap.String("orchestration", o.name), zap.String("run_id", runID))

	ctx, span := o.opts.tracer.Start(ctx, "orchestration.run", trace.WithAttributes(
		attribute.String("orchestration", o.name),
		attribute.String("run_id", runID),
	))
	defer span.End()

	logger.Info("Run started")
	o.emit(Event{Type: EventRunBegin})

	entryNode := o.Entry()
	first := NewProcess(entryNode, input, o.opts.maxAttempts)
	active, err := o.enter(ctx, logger, 0, []*Process{first})
	if err != nil {
		return o.fail(ctx, logger, span, 0, active, err)
	}

	for tick := 1; ; tick++ {
		// Completion: an empty active set ends the run without counting a tick
		if len(active) == 0 {
			ticks := tick - 1
			if err := o.setState(StateCompleted); err != nil {
				return err
			}
			logger.Info("Run finished", zap.Int("ticks", ticks))
			o.emit(Event{Type: EventFinished, Tick: ticks})
			return nil
		}

		o.opts.metrics.IncTicks(o.name)
		o.emit(Event{Type: EventTick, Tick: tick, Message: fmt.Sprintf("%d active nodes", len(active))})
		if o.opts.stepLog {
			o.record(stepOf(tick, active))
		}
		logger.Debug("Tick", zap.Int("tick", tick), zap.Int("active_nodes", len(active)))

		tctx, tickSpan := o.opts.tracer.Start(ctx, "orchestration.tick", trace.WithAttributes(
			attribute.Int("tick", tick),
			attribute.Int("active_nodes", len(active)),
		))

		invocations, err := o.invoke(tctx, logger, tick, active)
		if err != nil {
			tickSpan.End()
			return o.fail(ctx, logger, span, tick, active, err)
		}

		if o.cancelRequested(ctx) {
			tickSpan.End()
			// Cleanup hooks run even when the caller's context ended the run
			_ = o.exit(context.WithoutCancel(ctx), logger, tick, active)
			if err := o.setState(StateCancelled); err != nil {
				return err
			}
			logger.Info("Run cancelled", zap.Int("tick", tick))
			o.emit(Event{Type: EventCancelled, Tick: tick})
			span.SetStatus(codes.Error, "cancelled")
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
			}
			return ErrCancelled
		}

		candidates, err := o.advance(logger, tick, invocations)
		if err != nil {
			tickSpan.End()
			return o.fail(ctx, logger, span, tick, active, err)
		}

		if err := o.exit(tctx, logger, tick, active); err != nil {
			tickSpan.End()
			return o.fail(ctx, logger, span, tick, nil, err)
		}

		active, err = o.enter(tctx, logger, tick, candidates)
		tickSpan.End()
		if err != nil {
			return o.fail(ctx, logger, span, tick, active, err)
		}
	}
}

func (o *Orchestration[I, O]) cancelRequested(ctx context.Context) bool {
	return o.cancelled.Load() || ctx.Err() != nil
}

// fail cleans up what is still active and ends the run in the failed state.
func (o *Orchestration[I, O]) fail(ctx context.Context, logger *zap.Logger, span trace.Span, tick int, active []*entry, cause error) error {
	if len(active) > 0 {
		_ = o.exit(context.WithoutCancel(ctx), logger, tick, active)
	}
	if err := o.setState(StateFailed); err != nil {
		return errors.Join(cause, err)
	}

	logger.Error("Run failed", zap.Int("tick", tick), zap.Error(cause))
	o.emit(Event{Type: EventFailed, Tick: tick, Message: cause.Error(), Err: cause})
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	return cause
}

// invoke runs every active process and returns one invocation per node call. Under
// the fail-fast policy the first fault is returned once the whole batch is done.
func (o *Orchestration[I, O]) invoke(ctx context.Context, logger *zap.Logger, tick int, active []*entry) ([]*invocation, error) {
	var invocations []*invocation
	for _, e := range active {
		if e.runnable.CombineInput() {
			invocations = append(invocations, &invocation{runnable: e.runnable, processes: e.processes})
			continue
		}
		for _, p := range e.processes {
			invocations = append(invocations, &invocation{runnable: e.runnable, processes: []*Process{p}})
		}
	}
	if len(invocations) == 0 {
		return nil, nil
	}

	runID := o.RunID()
	tasks := make([]Task, len(invocations))
	for i, inv := range invocations {
		for _, p := range inv.processes {
			o.emit(Event{
				Type:      EventNodeStarted,
				Tick:      tick,
				NodeID:    inv.runnable.ID(),
				NodeName:  inv.runnable.Name(),
				ProcessID: p.ID,
				Message:   fmt.Sprintf("attempt %d/%d", p.Attempts+1, p.MaxAttempts),
			})
		}

		inputs := make([]any, len(inv.processes))
		for j, p := range inv.processes {
			inputs[j] = p.Input
		}
		snapshot := inv.processes[0].Snapshot()
		timeout := o.timeoutFor(inv.runnable)

		tasks[i] = func(ctx context.Context) error {
			ctx = withProcess(withRun(ctx, runID, tick), snapshot)
			ctx, span := o.opts.tracer.Start(ctx, "orchestration.invoke", trace.WithAttributes(
				attribute.String("node", inv.runnable.Name()),
				attribute.String("process_id", snapshot.ID),
				attribute.Int("attempt", snapshot.Attempts+1),
				attribute.Int("inputs", len(inputs)),
			))
			defer span.End()

			start := time.Now()
			out, err := callWithTimeout(ctx, timeout, func(ctx context.Context) (any, error) {
				return inv.runnable.invoke(ctx, o.props, inputs)
			})
			o.opts.metrics.ObserveInvocation(o.name, inv.runnable.Name(), time.Since(start), err)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			inv.output = out
			return err
		}
	}

	errs := o.opts.executor.Execute(ctx, tasks)

	var firstFault error
	for i, inv := range invocations {
		if errs[i] == nil {
			continue
		}
		nodeErr := &NodeError{
			NodeID:    inv.runnable.ID(),
			NodeName:  inv.runnable.Name(),
			ProcessID: inv.processes[0].ID,
			Phase:     PhaseInvoke,
			Err:       errs[i],
		}
		inv.err = nodeErr
		o.reportFault(logger, tick, nodeErr)
		if firstFault == nil {
			firstFault = nodeErr
		}
	}

	if o.opts.faultPolicy == FaultFailFast && firstFault != nil {
		return invocations, firstFault
	}
	return invocations, nil
}

// advance routes every invocation output and returns the next tick's candidates in
// routing order.
func (o *Orchestration[I, O]) advance(logger *zap.Logger, tick int, invocations []*invocation) ([]*Process, error) {
	var candidates []*Process

	for _, inv := range invocations {
		r := inv.runnable

		if inv.err != nil {
			candidates = append(candidates, o.retry(logger, tick, inv)...)
			continue
		}

		if o.isResult(r) {
			if err := o.collect(inv.output); err != nil {
				return nil, &NodeError{NodeID: r.ID(), NodeName: r.Name(), ProcessID: inv.processes[0].ID, Phase: PhaseAdvance, Err: err}
			}
		}

		routed, err := o.route(r, inv.output)
		if err != nil {
			nodeErr := &NodeError{NodeID: r.ID(), NodeName: r.Name(), ProcessID: inv.processes[0].ID, Phase: PhaseAdvance, Err: err}
			o.reportFault(logger, tick, nodeErr)
			if o.opts.faultPolicy == FaultFailFast {
				return nil, nodeErr
			}
			candidates = append(candidates, o.retry(logger, tick, inv)...)
			continue
		}

		if len(routed) > 0 {
			for _, p := range routed {
				o.verbose(tick, r, inv.processes[0].ID, fmt.Sprintf("routed %s -> %s", r.Name(), p.Runnable.Name()))
			}
			candidates = append(candidates, routed...)
			continue
		}

		if r.IsDeadEnd() {
			o.verbose(tick, r, inv.processes[0].ID, fmt.Sprintf("%s reached a dead end", r.Name()))
			continue
		}
		candidates = append(candidates, o.retry(logger, tick, inv)...)
	}

	return candidates, nil
}

// route evaluates the advancers of r against output. Without parallel advances the
// first match wins.
func (o *Orchestration[I, O]) route(r Runnable, output any) ([]*Process, error) {
	var routed []*Process
	for _, adv := range r.Advancers() {
		if !adv.Matches(output) {
			continue
		}
		payload, err := adv.Payload(output)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output for %s: %w", adv.Next().Name(), err)
		}
		routed = append(routed, NewProcess(adv.Next(), payload, o.opts.maxAttempts))
		if !r.AllowsParallelAdvances() {
			break
		}
	}
	return routed, nil
}

// retry schedules the processes of inv again with their original input, dropping
// those out of attempts.
func (o *Orchestration[I, O]) retry(logger *zap.Logger, tick int, inv *invocation) []*Process {
	var out []*Process
	for _, p := range inv.processes {
		next, ok := TryConsumeAttempt(*p)
		if ok {
			o.opts.metrics.IncRetries(o.name, inv.runnable.Name())
			o.verbose(tick, inv.runnable, p.ID, fmt.Sprintf("retrying %s (attempt %d/%d)", inv.runnable.Name(), next.Attempts+1, next.MaxAttempts))
			out = append(out, &next)
			continue
		}

		o.opts.metrics.IncDropped(o.name, inv.runnable.Name())
		logger.Warn("Process dropped after exhausting attempts",
			zap.String("node", inv.runnable.Name()),
			zap.String("process_id", p.ID),
			zap.Int("attempts", next.Attempts),
			zap.Int("tick", tick))
		o.verbose(tick, inv.runnable, p.ID, fmt.Sprintf("dropped %s after %d attempts", inv.runnable.Name(), next.Attempts))
	}
	return out
}

// exit runs the cleanup hook of every active node and reports them finished.
func (o *Orchestration[I, O]) exit(ctx context.Context, logger *zap.Logger, tick int, active []*entry) error {
	if len(active) == 0 {
		return nil
	}

	runID := o.RunID()
	tasks := make([]Task, len(active))
	for i, e := range active {
		r := e.runnable
		timeout := o.timeoutFor(r)
		tasks[i] = func(ctx context.Context) error {
			ctx = withRun(ctx, runID, tick)
			_, err := callWithTimeout(ctx, timeout, func(ctx context.Context) (any, error) {
				return nil, r.cleanup(ctx, o.props)
			})
			return err
		}
	}

	errs := o.opts.executor.Execute(ctx, tasks)

	var firstFault error
	for i, e := range active {
		r := e.runnable
		if errs[i] != nil {
			nodeErr := &NodeError{NodeID: r.ID(), NodeName: r.Name(), Phase: PhaseCleanup, Err: errs[i]}
			o.reportFault(logger, tick, nodeErr)
			if firstFault == nil {
				firstFault = nodeErr
			}
		}
		o.emit(Event{Type: EventNodeFinished, Tick: tick, NodeID: r.ID(), NodeName: r.Name()})
	}

	if o.opts.faultPolicy == FaultFailFast {
		return firstFault
	}
	return nil
}

// enter groups candidates by node, in first-seen order, and initializes each node
// with the first input delivered to it.
func (o *Orchestration[I, O]) enter(ctx context.Context, logger *zap.Logger, tick int, candidates []*Process) ([]*entry, error) {
	var active []*entry
	byID := make(map[string]*entry)
	for _, p := range candidates {
		if e, ok := byID[p.Runnable.ID()]; ok {
			e.processes = append(e.processes, p)
			continue
		}
		e := &entry{runnable: p.Runnable, processes: []*Process{p}}
		byID[p.Runnable.ID()] = e
		active = append(active, e)
	}
	if len(active) == 0 {
		return nil, nil
	}

	runID := o.RunID()
	tasks := make([]Task, len(active))
	for i, e := range active {
		r := e.runnable
		first := e.processes[0]
		snapshot := first.Snapshot()
		timeout := o.timeoutFor(r)
		tasks[i] = func(ctx context.Context) error {
			ctx = withProcess(withRun(ctx, runID, tick), snapshot)
			_, err := callWithTimeout(ctx, timeout, func(ctx context.Context) (any, error) {
				return nil, r.initialize(ctx, o.props, first.Input)
			})
			return err
		}
	}

	errs := o.opts.executor.Execute(ctx, tasks)

	var firstFault error
	for i, e := range active {
		if errs[i] == nil {
			continue
		}
		nodeErr := &NodeError{
			NodeID:    e.runnable.ID(),
			NodeName:  e.runnable.Name(),
			ProcessID: e.processes[0].ID,
			Phase:     PhaseInitialize,
			Err:       errs[i],
		}
		o.reportFault(logger, tick, nodeErr)
		if firstFault == nil {
			firstFault = nodeErr
		}
	}

	if o.opts.faultPolicy == FaultFailFast && firstFault != nil {
		return active, firstFault
	}
	return active, nil
}

func (o *Orchestration[I, O]) timeoutFor(r Runnable) time.Duration {
	if d := r.Timeout(); d > 0 {
		return d
	}
	return o.opts.nodeTimeout
}

func (o *Orchestration[I, O]) reportFault(logger *zap.Logger, tick int, err *NodeError) {
	logger.Error("Node fault",
		zap.String("node", err.NodeName),
		zap.String("process_id", err.ProcessID),
		zap.String("phase", string(err.Phase)),
		zap.Int("tick", tick),
		zap.Error(err.Err))

	o.emit(Event{
		Type:      EventNodeError,
		Tick:      tick,
		NodeID:    err.NodeID,
		NodeName:  err.NodeName,
		ProcessID: err.ProcessID,
		Message:   err.Error(),
		Err:       err,
	})
}

func (o *Orchestration[I, O]) verbose(tick int, r Runnable, processID, msg string) {
	o.emit(Event{
		Type:      EventVerbose,
		Tick:      tick,
		NodeID:    r.ID(),
		NodeName:  r.Name(),
		ProcessID: processID,
		Message:   msg,
	})
}

func (o *Orchestration[I, O]) emit(e Event) {
	e.Orchestration = o.name
	e.RunID = o.RunID()
	e.Timestamp = time.Now()
	o.events.Publish(e)
}

func stepOf(tick int, active []*entry) Step {
	step := Step{Tick: tick, Nodes: make([]StepNode, 0, len(active))}
	for _, e := range active {
		node := StepNode{
			NodeID:    e.runnable.ID(),
			NodeName:  e.runnable.Name(),
			Processes: make([]ProcessSnapshot, 0, len(e.processes)),
		}
		for _, p := range e.processes {
			node.Processes = append(node.Processes, p.Snapshot())
		}
		step.Nodes = append(step.Nodes, node)
	}
	return step
}
