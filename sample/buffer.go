package sample

import (
	"sync"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/pkg/buffer"
)

// DefaultCapacity is the number of samples retained when none is configured.
const DefaultCapacity = 50000

// Buffer is the bounded, strictly ordered store shared by ingestion and
// rendering. Appends evict the oldest samples once capacity is reached.
// Every read returns a copy that reflects a single instant.
type Buffer struct {
	mu         sync.RWMutex
	ring       buffer.Buffer[Sample]
	next       uint64
	generation uint64
	gauge      func(float64)
}

// BufferOption configures a Buffer.
type BufferOption func(*bufferConfig)

type bufferConfig struct {
	registry *metric.MetricsRegistry
}

// WithMetrics exports ring statistics and the retained sample gauge.
func WithMetrics(registry *metric.MetricsRegistry) BufferOption {
	return func(c *bufferConfig) { c.registry = registry }
}

// NewBuffer creates a buffer retaining up to capacity samples.
func NewBuffer(capacity int, opts ...BufferOption) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "SampleBuffer", "NewBuffer",
			"validate capacity")
	}

	var cfg bufferConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ringOpts := []buffer.Option[Sample]{buffer.WithOverflowPolicy[Sample](buffer.DropOldest)}
	if cfg.registry != nil {
		ringOpts = append(ringOpts, buffer.WithMetrics[Sample](cfg.registry, "samples"))
	}
	ring, err := buffer.NewCircularBuffer[Sample](capacity, ringOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "SampleBuffer", "NewBuffer", "create ring")
	}

	b := &Buffer{ring: ring, gauge: func(float64) {}}
	if cfg.registry != nil {
		b.gauge = cfg.registry.CoreMetrics().BufferedSamples.Set
	}
	return b, nil
}

// Append stamps samples with consecutive sequence numbers and stores them in
// order. It returns the number of older samples evicted to make room.
func (b *Buffer) Append(samples []Sample) int {
	if len(samples) == 0 {
		return 0
	}

	stamped := make([]Sample, len(samples))
	b.mu.Lock()
	for i, s := range samples {
		s.Seq = b.next
		b.next++
		stamped[i] = s
	}
	evicted, _ := b.ring.WriteBatch(stamped)
	size := b.ring.Size()
	b.mu.Unlock()

	b.gauge(float64(size))
	return evicted
}

// oldest returns the first retained sequence; callers hold mu.
func (b *Buffer) oldest() uint64 {
	return b.next - uint64(b.ring.Size())
}

func (b *Buffer) read(r Range) Window {
	w := Window{Generation: b.generation, Requested: r}
	oldest := b.oldest()

	lo, hi := r.Start, r.End
	if lo < oldest {
		lo = oldest
		w.Truncated = true
	}
	if hi > b.next {
		hi = b.next
	}
	if lo >= hi {
		if lo > b.next {
			lo = b.next
		}
		w.Start, w.End = lo, lo
		return w
	}

	w.Start, w.End = lo, hi
	w.Samples = b.ring.Slice(int(lo-oldest), int(hi-lo))
	return w
}

// Window returns the retained samples whose sequence falls in r. A range that
// extends past retained history yields only the intersection.
func (b *Buffer) Window(r Range) Window {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.read(r)
}

// Latest returns the newest n retained samples.
func (b *Buffer) Latest(n int) Window {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	var start uint64
	if uint64(n) < b.next {
		start = b.next - uint64(n)
	}
	return b.read(Range{Start: start, End: b.next})
}

// All returns every retained sample.
func (b *Buffer) All() Window {
	b.mu.RLock()
	defer b.mu.RUnlock()
	oldest := b.oldest()
	return b.read(Range{Start: oldest, End: b.next})
}

// Reset discards every retained sample and starts a new generation.
// Sequence numbers keep increasing.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.ring.Clear()
	b.generation++
	b.mu.Unlock()
	b.gauge(0)
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.Size()
}

// Capacity returns the configured maximum number of retained samples.
func (b *Buffer) Capacity() int {
	return b.ring.Capacity()
}

// Generation returns the current generation, incremented by every Reset.
func (b *Buffer) Generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.generation
}

// NextSeq returns the sequence number the next appended sample will receive.
func (b *Buffer) NextSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.next
}

// Stats exposes the underlying ring statistics.
func (b *Buffer) Stats() *buffer.Statistics {
	return b.ring.Stats()
}
