package orchestration

import "context"

type contextKey string

const (
	runIDKey   contextKey = "tickgraph.run_id"
	tickKey    contextKey = "tickgraph.tick"
	processKey contextKey = "tickgraph.process"
)

func withRun(ctx context.Context, runID string, tick int) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	return context.WithValue(ctx, tickKey, tick)
}

func withProcess(ctx context.Context, p ProcessSnapshot) context.Context {
	return context.WithValue(ctx, processKey, p)
}

// RunIDFromContext returns the id of the run invoking the current node.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// TickFromContext returns the tick number the current invocation belongs to.
func TickFromContext(ctx context.Context) int {
	tick, _ := ctx.Value(tickKey).(int)
	return tick
}

// ProcessFromContext returns the process being invoked. Combined invocations carry
// the first process of the batch.
func ProcessFromContext(ctx context.Context) (ProcessSnapshot, bool) {
	p, ok := ctx.Value(processKey).(ProcessSnapshot)
	return p, ok
}
