// Package storage provides run state storage implementations.
//
// Implementations:
//   - memory: in-process map, copies on every read and write
//   - redis: JSON values with TTL, listed with SCAN
//   - postgres: JSONB rows in tickgraph_runs via pgxpool
package storage
