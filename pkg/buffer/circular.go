package buffer

import (
	"sync"

	"github.com/Amanmahe/chords-demo/errors"
)

type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest item
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// push appends one item; callers hold the write lock.
func (cb *circularBuffer[T]) push(item T) (dropped T, didDrop bool) {
	if cb.size == cb.capacity {
		if cb.opts.overflowPolicy == DropNewest {
			return item, true
		}
		dropped = cb.items[cb.tail]
		var zero T
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
		didDrop = true
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	return dropped, didDrop
}

// at returns the i-th retained item counted from the oldest; callers hold a lock.
func (cb *circularBuffer[T]) at(i int) T {
	return cb.items[(cb.tail+i)%cb.capacity]
}

func (cb *circularBuffer[T]) copyRange(offset, n int) []T {
	if offset < 0 {
		n += offset
		offset = 0
	}
	if offset >= cb.size || n <= 0 {
		return nil
	}
	if offset+n > cb.size {
		n = cb.size - offset
	}
	out := make([]T, n)
	for i := range out {
		out[i] = cb.at(offset + i)
	}
	return out
}

func (cb *circularBuffer[T]) observe(writes, reads, drops int) {
	cb.stats.record(writes, reads, drops, cb.size)
	if cb.metrics != nil {
		cb.metrics.observe(writes, reads, drops, cb.size, cb.capacity)
	}
}

func (cb *circularBuffer[T]) notifyDropped(dropped []T) {
	for _, item := range dropped {
		cb.opts.dropCallback(item)
	}
}

// Write adds an item according to the overflow policy.
func (cb *circularBuffer[T]) Write(item T) error {
	_, err := cb.WriteBatch([]T{item})
	return err
}

// WriteBatch adds items in order and returns how many were dropped.
func (cb *circularBuffer[T]) WriteBatch(items []T) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return 0, errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "WriteBatch", "write to closed buffer")
	}

	drops := 0
	var dropped []T
	for _, item := range items {
		d, ok := cb.push(item)
		if !ok {
			continue
		}
		drops++
		if cb.opts.dropCallback != nil {
			dropped = append(dropped, d)
		}
	}
	cb.observe(len(items), 0, drops)
	cb.mu.Unlock()

	cb.notifyDropped(dropped)
	return drops, nil
}

// Read removes and returns the oldest item.
func (cb *circularBuffer[T]) Read() (T, bool) {
	items := cb.ReadBatch(1)
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}

// ReadBatch removes and returns up to max of the oldest items.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	n := max
	if n > cb.size {
		n = cb.size
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
	}
	cb.size -= n
	cb.observe(0, n, 0)

	return out
}

// Snapshot copies every retained item, oldest first.
func (cb *circularBuffer[T]) Snapshot() []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.copyRange(0, cb.size)
}

// Slice copies up to n items starting offset positions after the oldest.
func (cb *circularBuffer[T]) Slice(offset, n int) []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.copyRange(offset, n)
}

// Tail copies the newest n items, oldest first.
func (cb *circularBuffer[T]) Tail(n int) []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if n > cb.size {
		n = cb.size
	}
	return cb.copyRange(cb.size-n, n)
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

// IsFull returns true if the buffer is at maximum capacity.
func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == cb.capacity
}

// IsEmpty returns true if the buffer contains no items.
func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Clear removes all items from the buffer.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	var cleared []T
	if cb.opts.dropCallback != nil {
		cleared = cb.copyRange(0, cb.size)
	}

	var zero T
	for i := range cb.items {
		cb.items[i] = zero
	}
	cb.head, cb.tail, cb.size = 0, 0, 0

	cb.stats.clears.Add(1)
	if cb.metrics != nil {
		cb.metrics.clears.Inc()
	}
	cb.observe(0, 0, 0)
	cb.mu.Unlock()

	cb.notifyDropped(cleared)
}

// Stats returns buffer statistics (always available for observability).
func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close rejects further writes. Retained items stay readable.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closed = true
	return nil
}
