package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/metric"
)

// DefaultMaxPending bounds queued payload events when no limit is configured.
const DefaultMaxPending = 65536

// Feed is the ordered queue between gateways and the pipeline. Publish never
// blocks. Events come out of Next in publish order.
//
// Payload events beyond maxPending are dropped and counted. Status events are
// always queued so that a disconnect is never lost.
type Feed struct {
	mu       sync.Mutex
	queue    []Event
	head     int
	payloads int
	max      int
	closed   bool
	ready    chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
	overflow  func()
}

// NewFeed creates a feed. A nil registry disables the overflow metric.
func NewFeed(maxPending int, registry *metric.MetricsRegistry) *Feed {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	f := &Feed{
		max:      maxPending,
		ready:    make(chan struct{}, 1),
		overflow: func() {},
	}
	if registry != nil {
		f.overflow = registry.CoreMetrics().FeedOverflows.Inc
	}
	return f
}

// Publish enqueues ev. It returns false if the feed is closed or, for a
// payload event, if maxPending payloads are already queued.
func (f *Feed) Publish(ev Event) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	if ev.Kind == EventPayload && f.payloads >= f.max {
		f.mu.Unlock()
		f.dropped.Add(1)
		f.overflow()
		return false
	}
	f.queue = append(f.queue, ev)
	if ev.Kind == EventPayload {
		f.payloads++
	}
	f.mu.Unlock()

	f.published.Add(1)
	select {
	case f.ready <- struct{}{}:
	default:
	}
	return true
}

func (f *Feed) pop() (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.head == len(f.queue) {
		return Event{}, false
	}
	ev := f.queue[f.head]
	f.queue[f.head] = Event{}
	f.head++
	if ev.Kind == EventPayload {
		f.payloads--
	}
	// compact once the consumed prefix dominates
	if f.head > 1024 && f.head*2 > len(f.queue) {
		n := copy(f.queue, f.queue[f.head:])
		f.queue = f.queue[:n]
		f.head = 0
	}
	return ev, true
}

// Next blocks until an event is available, ctx is done or the feed is closed
// and drained.
func (f *Feed) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := f.pop(); ok {
			return ev, nil
		}

		f.mu.Lock()
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return Event{}, errors.ErrShuttingDown
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-f.ready:
		}
	}
}

// Close stops accepting events. Queued events remain readable.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued events.
func (f *Feed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) - f.head
}

// Published returns the number of accepted events.
func (f *Feed) Published() int64 { return f.published.Load() }

// Dropped returns the number of payload events rejected by the pending limit.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }
