// Package events provides event bus implementations.
//
// Implementations:
//   - memory: in-process handlers, synchronous and ordered
//   - redis: Redis Streams, every subscriber reads from its subscription point
//   - nats: core NATS subjects
//   - amqp: RabbitMQ topic exchange with private queues per subscriber
package events
