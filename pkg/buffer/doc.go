// Package buffer provides a thread-safe generic ring buffer with two overflow
// policies, always-on statistics and optional Prometheus metrics.
//
// # Quick Start
//
//	ring, err := buffer.NewCircularBuffer[int](1000)
//	if err != nil {
//		return err
//	}
//	_ = ring.Write(42)
//	latest := ring.Tail(10)
//
// With overflow policy and metrics:
//
//	feed, err := buffer.NewCircularBuffer[Event](4096,
//		buffer.WithOverflowPolicy[Event](buffer.DropNewest),
//		buffer.WithMetrics[Event](registry, "gateway_feed"),
//	)
//
// # Overflow Policies
//
//   - DropOldest: evict the oldest item to make room (default). Used for
//     retained history where the newest data matters most.
//   - DropNewest: discard the incoming item. Used for queues whose consumer
//     must observe events in publish order without gaps being back-filled.
//
// Writers never wait. There is no blocking policy.
//
// # Reading
//
// A ring can be drained (Read, ReadBatch) or observed in place (Snapshot,
// Slice, Tail). Observation copies under a read lock, so the result reflects
// one instant and is unaffected by concurrent writes or evictions.
//
// # Observability
//
// Statistics are always collected with atomic counters and are available
// through Stats() without any Prometheus dependency. WithMetrics additionally
// exports writes, reads, drops, clears, size and utilization under the
// "chords_ring_" prefix with a component label.
//
// Drop callbacks run after the lock is released and may safely call back into
// the buffer.
package buffer
