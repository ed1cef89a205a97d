// Package ports declares the interfaces the run manager depends on.
//
// Adapters under pkg/adapters implement them:
//   - EventBus: memory, redis, nats, amqp
//   - StateStorage: memory, redis, postgres
//   - MetricsCollector: prometheus
//   - RunArchiver: azure
//   - ErrorReporter: sentry
package ports
