package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity with atomic counters.
type Statistics struct {
	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	clears  atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64

	startTime time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) record(writes, reads, drops, size int) {
	if writes > 0 {
		s.writes.Add(int64(writes))
	}
	if reads > 0 {
		s.reads.Add(int64(reads))
	}
	if drops > 0 {
		s.drops.Add(int64(drops))
	}
	s.size.Store(int64(size))
	for {
		cur := s.maxSize.Load()
		if int64(size) <= cur || s.maxSize.CompareAndSwap(cur, int64(size)) {
			return
		}
	}
}

// Writes returns the number of items written, including those later evicted.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items consumed.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of items dropped by the overflow policy.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// Clears returns the number of Clear calls.
func (s *Statistics) Clears() int64 { return s.clears.Load() }

// CurrentSize returns the number of items held at the last operation.
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// Throughput returns the average number of writes per second.
func (s *Statistics) Throughput() float64 {
	elapsed := time.Since(s.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(s.Writes()) / elapsed
}

// DropRate returns drops as a fraction of write attempts (0.0 to 1.0).
func (s *Statistics) DropRate() float64 {
	attempts := s.Writes()
	if attempts == 0 {
		return 0
	}
	return float64(s.Drops()) / float64(attempts)
}

// Uptime returns how long the buffer has existed.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Writes      int64         `json:"writes"`
	Reads       int64         `json:"reads"`
	Drops       int64         `json:"drops"`
	Clears      int64         `json:"clears"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	Throughput  float64       `json:"throughput"`
	DropRate    float64       `json:"drop_rate"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Drops:       s.Drops(),
		Clears:      s.Clears(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		Throughput:  s.Throughput(),
		DropRate:    s.DropRate(),
		Uptime:      s.Uptime(),
	}
}
