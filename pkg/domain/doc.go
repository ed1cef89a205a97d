// Package domain holds the service-level types shared by adapters and APIs.
//
// It defines:
//   - RunState, the persisted record of one orchestration run
//   - Event, the envelope published on the event bus
//   - sentinel errors returned by the run manager and storage adapters
package domain
