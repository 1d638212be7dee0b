package render

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/mode"
	"github.com/Amanmahe/chords-demo/sample"
)

type recorder struct {
	mu     sync.Mutex
	frames []Frame
	fail   int // fail this many calls before succeeding
}

func (r *recorder) Render(_ context.Context, f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return stderrors.New("surface busy")
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) last() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

type fixedSignal sample.Signal

func (f fixedSignal) Signal() sample.Signal { return sample.Signal(f) }

type fixture struct {
	s     *Scheduler
	buf   *sample.Buffer
	modes *mode.Controller
	rec   *recorder
	reg   *metric.MetricsRegistry
}

func newFixture(t *testing.T, gridWindow int, surfaces ...Surface) *fixture {
	t.Helper()
	buf, err := sample.NewBuffer(1000)
	require.NoError(t, err)
	modes, err := mode.New(mode.Default())
	require.NoError(t, err)

	f := &fixture{buf: buf, modes: modes, rec: &recorder{}, reg: metric.NewMetricsRegistry()}
	cfg := DefaultConfig()
	cfg.GridWindow = gridWindow
	cfg.Interval = time.Millisecond

	f.s, err = NewScheduler(Deps{
		Config:          cfg,
		Source:          buf,
		Modes:           modes,
		Surfaces:        append([]Surface{f.rec}, surfaces...),
		MetricsRegistry: f.reg,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) append(vals ...int32) {
	samples := make([]sample.Sample, len(vals))
	for i, v := range vals {
		samples[i] = sample.Sample{Value: v, Width: sample.BitModeTen}
	}
	f.buf.Append(samples)
}

func frameValues(fr Frame) []int32 {
	out := make([]int32, 0, fr.Window.Len())
	for _, s := range fr.Window.Samples {
		out = append(out, s.Value)
	}
	return out
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(Deps{})
	assert.True(t, errors.IsFatal(err))

	buf, _ := sample.NewBuffer(1)
	modes, _ := mode.New(mode.Default())
	cfg := DefaultConfig()
	cfg.Interval = 0
	_, err = NewScheduler(Deps{Config: cfg, Source: buf, Modes: modes})
	assert.True(t, errors.IsInvalid(err))

	cfg = DefaultConfig()
	cfg.GridWindow = -1
	assert.Error(t, cfg.Validate())
}

func TestTick_GridViewUsesTrailingWindow(t *testing.T) {
	f := newFixture(t, 3)
	f.append(1, 2, 3, 4, 5)

	assert.Equal(t, ResultRendered, f.s.Tick(context.Background()))
	fr := f.rec.last()
	assert.True(t, fr.GridView)
	assert.Equal(t, []int32{3, 4, 5}, frameValues(fr))
	assert.Equal(t, uint64(1), fr.Tick)

	f.modes.SetGridView(false)
	f.s.Tick(context.Background())
	fr = f.rec.last()
	assert.False(t, fr.GridView)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, frameValues(fr))
	assert.Equal(t, sample.BitModeAuto, fr.BitMode)
}

func TestTick_DisplayDisabledSkipsSurface(t *testing.T) {
	f := newFixture(t, 10)
	f.modes.SetDisplayEnabled(false)

	assert.Equal(t, ResultSkipped, f.s.Tick(context.Background()))
	assert.Zero(t, f.rec.count())

	// ingestion continues while paused
	f.append(42)
	f.modes.SetDisplayEnabled(true)

	assert.Equal(t, ResultRendered, f.s.Tick(context.Background()))
	assert.Equal(t, []int32{42}, frameValues(f.rec.last()))

	m := f.reg.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RenderTicks.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RenderTicks.WithLabelValues("rendered")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RenderDuration))
}

func TestTick_SurfaceErrorSkipsTickOnly(t *testing.T) {
	f := newFixture(t, 10)
	f.rec.fail = 2
	f.append(1)

	assert.Equal(t, ResultFailed, f.s.Tick(context.Background()))
	assert.Equal(t, ResultFailed, f.s.Tick(context.Background()))
	assert.Equal(t, ResultRendered, f.s.Tick(context.Background()))
	assert.Equal(t, 1, f.rec.count())
	assert.Equal(t, uint64(3), f.rec.last().Tick)

	st := f.s.Stats()
	assert.Equal(t, uint64(3), st.Ticks)
	assert.Equal(t, int64(2), st.Failed)
	assert.Equal(t, int64(1), st.Rendered)
}

func TestTick_OneFailingSurfaceDoesNotStarveOthers(t *testing.T) {
	broken := SurfaceFunc(func(context.Context, Frame) error { return stderrors.New("gone") })
	f := newFixture(t, 10, broken)
	f.append(7)

	assert.Equal(t, ResultFailed, f.s.Tick(context.Background()))
	assert.Equal(t, 1, f.rec.count())
}

func TestTick_RenderTimeoutIsApplied(t *testing.T) {
	var deadline bool
	probe := SurfaceFunc(func(ctx context.Context, _ Frame) error {
		_, deadline = ctx.Deadline()
		return nil
	})
	f := newFixture(t, 10, probe)
	f.s.Tick(context.Background())
	assert.True(t, deadline)
}

func TestTick_AttachesSignal(t *testing.T) {
	buf, _ := sample.NewBuffer(10)
	modes, _ := mode.New(mode.Default())
	rec := &recorder{}
	s, err := NewScheduler(Deps{
		Config:   DefaultConfig(),
		Source:   buf,
		Modes:    modes,
		Signal:   fixedSignal{Connection: "connected", Degraded: true},
		Surfaces: []Surface{rec},
	})
	require.NoError(t, err)

	s.Tick(context.Background())
	require.NotNil(t, rec.last().Signal)
	assert.True(t, rec.last().Signal.Degraded)
}

func TestTick_WindowIsACopy(t *testing.T) {
	f := newFixture(t, 10)
	f.append(1, 2)
	f.s.Tick(context.Background())
	fr := f.rec.last()

	f.append(3)
	f.buf.Reset()
	assert.Equal(t, []int32{1, 2}, frameValues(fr))
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	f := newFixture(t, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	require.Eventually(t, func() bool { return f.rec.count() >= 3 }, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, f.s.Run(ctx), errors.ErrAlreadyStarted)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSurfaceName(t *testing.T) {
	assert.Equal(t, "*render.recorder", surfaceName(&recorder{}))
	assert.Equal(t, "named", surfaceName(namedSurface{}))
}

type namedSurface struct{ SurfaceFunc }

func (namedSurface) Name() string { return "named" }
