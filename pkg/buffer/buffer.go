// Package buffer provides a generic, thread-safe ring buffer that never blocks
// its writer. When full, it drops either the oldest retained item or the
// incoming one. Statistics are always collected; Prometheus metrics are optional.
package buffer

// Buffer is a bounded FIFO of items of type T.
//
// Items can be consumed (Read, ReadBatch) or observed in place (Snapshot,
// Slice, Tail). Observers always receive a copy, so a returned slice is never
// affected by later writes or evictions.
type Buffer[T any] interface {
	// Write adds an item, applying the overflow policy when the buffer is full.
	Write(item T) error

	// WriteBatch adds items in order under a single lock acquisition and
	// returns the number of items dropped by the overflow policy.
	WriteBatch(items []T) (int, error)

	// Read removes and returns the oldest item.
	Read() (T, bool)

	// ReadBatch removes and returns up to max of the oldest items.
	ReadBatch(max int) []T

	// Snapshot copies every retained item, oldest first.
	Snapshot() []T

	// Slice copies up to n items starting at offset positions after the oldest.
	Slice(offset, n int) []T

	// Tail copies the newest n items, oldest first.
	Tail(n int) []T

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool

	// Clear removes all items. Cleared items are passed to the drop callback.
	Clear()

	// Stats returns buffer statistics (always available for observability).
	Stats() *Statistics

	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the buffer lock, with every item dropped by
// the overflow policy or by Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring of the given capacity. Capacity below 1 is
// raised to 1. Returns an error only if metrics registration fails.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
