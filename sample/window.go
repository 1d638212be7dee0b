package sample

import (
	"math"
	"sort"
)

// Range is a half-open interval of sequence numbers [Start, End).
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Since returns the range of every sequence at or after start.
func Since(start uint64) Range {
	return Range{Start: start, End: math.MaxUint64}
}

// Everything covers all sequence numbers.
var Everything = Since(0)

// Window is a point-in-time copy of a contiguous run of retained samples.
type Window struct {
	// Generation is the buffer generation the window was drawn from.
	Generation uint64 `json:"generation"`
	Requested  Range  `json:"requested"`
	// Start and End bound the returned samples: [Start, End).
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
	// Truncated is set when part of the requested range had already been evicted.
	Truncated bool     `json:"truncated"`
	Samples   []Sample `json:"samples"`
}

// Len returns the number of samples in the window.
func (w Window) Len() int {
	return len(w.Samples)
}

// Channels returns the distinct channel numbers present, ascending.
func (w Window) Channels() []int {
	seen := make(map[int]struct{})
	for _, s := range w.Samples {
		seen[s.Channel] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}

// Series splits the window into per-channel value slices, keeping order.
func (w Window) Series() map[int][]int32 {
	out := make(map[int][]int32)
	for _, s := range w.Samples {
		out[s.Channel] = append(out[s.Channel], s.Value)
	}
	return out
}

// Width returns the widest resolved bit mode in the window, or auto when empty.
func (w Window) Width() BitMode {
	widest := BitModeAuto
	for _, s := range w.Samples {
		if s.Width > widest {
			widest = s.Width
		}
	}
	return widest
}
