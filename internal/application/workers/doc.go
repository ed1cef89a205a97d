// Package workers implements the worker pool that runs node invocations.
//
// The pool manages a fixed number of goroutines and implements
// orchestration.Executor, so every run built by the manager schedules its node
// functions and hooks on the same bounded set of workers:
//   - Execute hands each task to an idle worker and waits for the batch
//   - Panicking tasks are reported as errors, the worker survives
//   - Shutdown stops accepting work and waits for running tasks
//
// The health monitor tracks worker status, logs it and records pool gauges.
package workers
