// Package orchestration implements a bulk-synchronous graph execution engine.
//
// An Orchestration owns a registry of typed nodes (Runnables) connected by
// predicate-guarded edges (Advancers). A run proceeds in ticks:
//   - every active process invokes its node, concurrently
//   - each output is routed through the node's advancers into the next tick's processes
//   - outputs that match no advancer are retried up to a bound, then dropped
//   - nodes leaving the active set are cleaned up, nodes entering it are initialized
//
// The loop stops when no processes remain (completed), when Cancel is observed at a tick
// boundary (cancelled), or when a node faults under the FailFast policy (failed).
//
// Example:
//
//	a := orchestration.NewNode("a", func(ctx context.Context, props *orchestration.Properties, in string) (string, error) {
//	    return "go", nil
//	})
//	b := orchestration.NewNode("b", func(ctx context.Context, props *orchestration.Properties, in string) (string, error) {
//	    return "done", nil
//	}, orchestration.AsDeadEnd())
//	orchestration.Route(a, b, func(out string) bool { return out == "go" })
//
//	o := orchestration.New[string, string]("example")
//	_ = o.SetEntry(a)
//	_ = o.SetResult(b)
//	results, err := o.Run(ctx, "start") // ["done"]
package orchestration
