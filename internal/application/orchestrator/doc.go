// Package orchestrator runs catalog graphs as tracked, persisted runs.
//
// The manager coordinates run execution by:
//   - Building a fresh orchestration of the requested graph per run
//   - Decoding the JSON run input into the graph's entry input type
//   - Managing the run lifecycle (submit, wait, cancel, timeout, shutdown)
//   - Forwarding engine events to the event bus
//   - Tracking run state via state storage and archiving finished runs
//
// The catalog holds named graph factories; the validator checks the graphs
// they build and the inputs submitted to them.
package orchestrator
