// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with a consumer group per process
//   - memory: In-process fan-out, used when Redis events are disabled
package events
