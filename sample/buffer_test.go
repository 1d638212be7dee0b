package sample

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanmahe/chords-demo/metric"
)

func values(ws []Sample) []int32 {
	if len(ws) == 0 {
		return nil
	}
	out := make([]int32, len(ws))
	for i, s := range ws {
		out[i] = s.Value
	}
	return out
}

func mk(vals ...int32) []Sample {
	out := make([]Sample, len(vals))
	for i, v := range vals {
		out[i] = Sample{Value: v, Width: BitModeTen, Arrived: time.Unix(0, 0)}
	}
	return out
}

func newBuffer(t *testing.T, capacity int) *Buffer {
	t.Helper()
	b, err := NewBuffer(capacity)
	require.NoError(t, err)
	return b
}

func TestNewBuffer_RejectsZeroCapacity(t *testing.T) {
	_, err := NewBuffer(0)
	assert.Error(t, err)
}

func TestBuffer_CapacityThreeKeepsNewest(t *testing.T) {
	b := newBuffer(t, 3)
	for _, v := range []int32{1, 2, 3, 4} {
		b.Append(mk(v))
	}

	w := b.All()
	assert.Equal(t, []int32{2, 3, 4}, values(w.Samples))
	assert.Equal(t, uint64(1), w.Start)
	assert.Equal(t, uint64(4), w.End)
	assert.Equal(t, 3, b.Len())
}

func TestBuffer_BatchLargerThanCapacity(t *testing.T) {
	b := newBuffer(t, 3)
	assert.Equal(t, 2, b.Append(mk(1, 2, 3, 4, 5)))

	w := b.All()
	assert.Equal(t, []int32{3, 4, 5}, values(w.Samples))
	assert.Equal(t, uint64(2), w.Start)
	assert.Equal(t, uint64(5), w.End)
	assert.Equal(t, uint64(2), w.Samples[0].Seq)
	assert.Equal(t, 3, b.Len())
}

func TestBuffer_AppendAssignsSequence(t *testing.T) {
	b := newBuffer(t, 10)
	b.Append(mk(5, 6))
	b.Append(mk(7))

	w := b.All()
	require.Len(t, w.Samples, 3)
	for i, s := range w.Samples {
		assert.Equal(t, uint64(i), s.Seq)
	}
	assert.Equal(t, uint64(3), b.NextSeq())
}

func TestBuffer_AppendDoesNotAliasCallerSlice(t *testing.T) {
	b := newBuffer(t, 10)
	in := mk(1, 2)
	b.Append(in)
	in[0].Value = 99

	assert.Equal(t, []int32{1, 2}, values(b.All().Samples))
	assert.Zero(t, in[1].Seq, "caller's samples are not stamped")
}

func TestBuffer_AppendReportsEvictions(t *testing.T) {
	b := newBuffer(t, 2)
	assert.Equal(t, 0, b.Append(mk(1, 2)))
	assert.Equal(t, 3, b.Append(mk(3, 4, 5)))
	assert.Equal(t, 0, b.Append(nil))
}

func TestBuffer_Window(t *testing.T) {
	b := newBuffer(t, 5)
	b.Append(mk(0, 1, 2, 3, 4, 5, 6, 7)) // retained seq 3..7

	tests := []struct {
		name      string
		r         Range
		want      []int32
		truncated bool
		start     uint64
		end       uint64
	}{
		{"inside", Range{4, 6}, []int32{4, 5}, false, 4, 6},
		{"before retained", Range{0, 5}, []int32{3, 4}, true, 3, 5},
		{"past newest", Range{6, 100}, []int32{6, 7}, false, 6, 8},
		{"everything", Everything, []int32{3, 4, 5, 6, 7}, true, 3, 8},
		{"fully evicted", Range{0, 2}, nil, true, 3, 3},
		{"future", Range{20, 30}, nil, false, 8, 8},
		{"empty range", Range{5, 5}, nil, false, 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := b.Window(tt.r)
			assert.Equal(t, tt.want, values(w.Samples))
			assert.Equal(t, tt.truncated, w.Truncated)
			assert.Equal(t, tt.start, w.Start)
			assert.Equal(t, tt.end, w.End)
			assert.Equal(t, tt.r, w.Requested)
		})
	}
}

func TestBuffer_Latest(t *testing.T) {
	b := newBuffer(t, 4)
	assert.Zero(t, b.Latest(3).Len())

	b.Append(mk(1, 2))
	w := b.Latest(3)
	assert.Equal(t, []int32{1, 2}, values(w.Samples))
	assert.False(t, w.Truncated, "nothing evicted yet")

	b.Append(mk(3, 4, 5, 6))
	w = b.Latest(2)
	assert.Equal(t, []int32{5, 6}, values(w.Samples))

	w = b.Latest(10)
	assert.Equal(t, []int32{3, 4, 5, 6}, values(w.Samples))
	assert.True(t, w.Truncated)

	assert.Zero(t, b.Latest(-1).Len())
}

func TestBuffer_WindowIdempotent(t *testing.T) {
	b := newBuffer(t, 8)
	b.Append(mk(1, 2, 3))

	first := b.Window(Range{0, 10})
	second := b.Window(Range{0, 10})
	assert.Equal(t, first, second)
}

func TestBuffer_WindowUnaffectedByLaterAppends(t *testing.T) {
	b := newBuffer(t, 3)
	b.Append(mk(1, 2, 3))
	w := b.All()

	b.Append(mk(4, 5, 6))
	assert.Equal(t, []int32{1, 2, 3}, values(w.Samples))
}

func TestBuffer_Reset(t *testing.T) {
	b := newBuffer(t, 4)
	b.Append(mk(1, 2, 3))
	gen := b.Generation()

	b.Reset()

	assert.Zero(t, b.Len())
	assert.Equal(t, gen+1, b.Generation())
	w := b.All()
	assert.Empty(t, w.Samples)
	assert.Equal(t, gen+1, w.Generation)

	b.Append(mk(9))
	w = b.All()
	require.Len(t, w.Samples, 1)
	assert.Equal(t, uint64(3), w.Samples[0].Seq, "sequence continues after reset")
}

func TestBuffer_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	b, err := NewBuffer(2, WithMetrics(reg))
	require.NoError(t, err)

	b.Append(mk(1, 2, 3))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.CoreMetrics().BufferedSamples))
	b.Reset()
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.CoreMetrics().BufferedSamples))
	assert.Equal(t, int64(1), b.Stats().Drops())
}

func TestBuffer_ConcurrentAppendAndWindow(t *testing.T) {
	const capacity = 64
	b := newBuffer(t, capacity)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int32(0); i < 5000; i++ {
			b.Append(mk(i, i))
		}
	}()

	for i := 0; i < 500; i++ {
		w := b.Latest(capacity)
		assert.LessOrEqual(t, w.Len(), capacity)
		for j := 1; j < len(w.Samples); j++ {
			if w.Samples[j].Seq != w.Samples[j-1].Seq+1 {
				t.Fatalf("gap or reorder at %d: %d then %d", j, w.Samples[j-1].Seq, w.Samples[j].Seq)
			}
		}
		if w.Len() > 0 {
			assert.Equal(t, w.Samples[0].Seq, w.Start)
			assert.Equal(t, w.Samples[len(w.Samples)-1].Seq+1, w.End)
		}
	}
	wg.Wait()
	assert.Equal(t, capacity, b.Len())
}

func TestWindow_Helpers(t *testing.T) {
	w := Window{Samples: []Sample{
		{Channel: 1, Value: 10, Width: BitModeTen},
		{Channel: 0, Value: 5, Width: BitModeTwelve},
		{Channel: 1, Value: 11, Width: BitModeTen},
	}}

	assert.Equal(t, []int{0, 1}, w.Channels())
	assert.Equal(t, map[int][]int32{0: {5}, 1: {10, 11}}, w.Series())
	assert.Equal(t, BitModeTwelve, w.Width())
	assert.Equal(t, BitModeAuto, Window{}.Width())
}
