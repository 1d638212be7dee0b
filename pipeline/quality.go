package pipeline

import (
	"sync"
	"time"
)

// qualityWindow counts payload outcomes over a sliding time window split
// into fixed buckets. Old buckets are recycled lazily on access.
type qualityWindow struct {
	mu      sync.Mutex
	width   time.Duration
	buckets []qualityBucket
	now     func() time.Time
}

type qualityBucket struct {
	slot     int64 // absolute bucket index; identifies which interval the counts belong to
	payloads int64
	errors   int64
}

func newQualityWindow(window time.Duration, buckets int, now func() time.Time) *qualityWindow {
	if buckets <= 0 {
		buckets = 1
	}
	width := window / time.Duration(buckets)
	if width <= 0 {
		width = time.Millisecond
	}
	q := &qualityWindow{
		width:   width,
		buckets: make([]qualityBucket, buckets),
		now:     now,
	}
	for i := range q.buckets {
		q.buckets[i].slot = -1
	}
	return q
}

func (q *qualityWindow) current() int64 {
	return q.now().UnixNano() / int64(q.width)
}

func (q *qualityWindow) record(failed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	slot := q.current()
	b := &q.buckets[int(slot%int64(len(q.buckets)))]
	if b.slot != slot {
		*b = qualityBucket{slot: slot}
	}
	b.payloads++
	if failed {
		b.errors++
	}
}

// totals returns the payload and error counts inside the window.
func (q *qualityWindow) totals() (payloads, errs int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	oldest := q.current() - int64(len(q.buckets)) + 1
	for _, b := range q.buckets {
		if b.slot >= oldest {
			payloads += b.payloads
			errs += b.errors
		}
	}
	return payloads, errs
}

func (q *qualityWindow) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.buckets {
		q.buckets[i] = qualityBucket{slot: -1}
	}
}

func errorRate(payloads, errs int64) float64 {
	if payloads == 0 {
		return 0
	}
	return float64(errs) / float64(payloads)
}
