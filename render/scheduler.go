package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/metric"
)

// Result is the outcome of one tick.
type Result string

const (
	ResultRendered Result = "rendered"
	ResultSkipped  Result = "skipped"
	ResultFailed   Result = "failed"
)

// Config controls the render cadence.
type Config struct {
	Interval      time.Duration `json:"interval" yaml:"interval"`
	GridWindow    int           `json:"grid_window" yaml:"grid_window"`
	RenderTimeout time.Duration `json:"render_timeout" yaml:"render_timeout"`
}

// DefaultConfig renders at roughly 60 Hz with a 500-sample grid window.
func DefaultConfig() Config {
	return Config{
		Interval:      16 * time.Millisecond,
		GridWindow:    500,
		RenderTimeout: 250 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return errors.WrapInvalid(fmt.Errorf("interval must be positive, got %s", c.Interval),
			"RenderScheduler", "Validate", "check interval")
	case c.GridWindow <= 0:
		return errors.WrapInvalid(fmt.Errorf("grid window must be positive, got %d", c.GridWindow),
			"RenderScheduler", "Validate", "check grid window")
	case c.RenderTimeout < 0:
		return errors.WrapInvalid(fmt.Errorf("render timeout cannot be negative, got %s", c.RenderTimeout),
			"RenderScheduler", "Validate", "check render timeout")
	}
	return nil
}

// Deps holds runtime dependencies for the scheduler.
type Deps struct {
	Config          Config
	Source          Source
	Modes           ModeSource
	Signal          SignalSource // optional
	Surfaces        []Surface
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
	Clock           func() time.Time        // optional, for tests
}

type surfaceState struct {
	surface  Surface
	failures int // consecutive
}

// Scheduler drives surfaces at a fixed cadence. It only reads from the
// buffer and never blocks ingestion.
type Scheduler struct {
	cfg      Config
	source   Source
	modes    ModeSource
	signal   SignalSource
	surfaces []*surfaceState
	metrics  *metric.Metrics
	logger   *slog.Logger
	now      func() time.Time

	ticks    atomic.Uint64
	rendered atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
	running  atomic.Bool
}

// NewScheduler creates a Scheduler.
func NewScheduler(deps Deps) (*Scheduler, error) {
	if deps.Source == nil || deps.Modes == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "RenderScheduler", "New", "check dependencies")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	s := &Scheduler{
		cfg:    deps.Config,
		source: deps.Source,
		modes:  deps.Modes,
		signal: deps.Signal,
		logger: logger.With("component", "render"),
		now:    now,
	}
	if deps.MetricsRegistry != nil {
		s.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	for _, surf := range deps.Surfaces {
		if surf != nil {
			s.surfaces = append(s.surfaces, &surfaceState{surface: surf})
		}
	}
	return s, nil
}

// Run ticks until ctx is done. Waiting for the next tick is the only
// suspension point; a tick that overruns the interval delays the next one
// instead of queueing ticks.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "RenderScheduler", "Run", "start ticker")
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Render scheduler started",
		"interval", s.cfg.Interval, "surfaces", len(s.surfaces))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Render scheduler stopped",
				"rendered", s.rendered.Load(), "skipped", s.skipped.Load(), "failed", s.failed.Load())
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one render cycle.
func (s *Scheduler) Tick(ctx context.Context) Result {
	tick := s.ticks.Add(1)
	modes := s.modes.Snapshot()

	if !modes.DisplayEnabled || len(s.surfaces) == 0 {
		s.skipped.Add(1)
		s.record(ResultSkipped, 0)
		return ResultSkipped
	}

	start := s.now()
	frame := Frame{
		GridView:  modes.GridView,
		BitMode:   modes.BitMode,
		Tick:      tick,
		Timestamp: start,
	}
	if modes.GridView {
		frame.Window = s.source.Latest(s.cfg.GridWindow)
	} else {
		frame.Window = s.source.All()
	}
	if s.signal != nil {
		sig := s.signal.Signal()
		frame.Signal = &sig
	}

	result := ResultRendered
	for _, st := range s.surfaces {
		if err := s.renderOne(ctx, st, frame); err != nil {
			result = ResultFailed
		}
	}

	if result == ResultFailed {
		s.failed.Add(1)
	} else {
		s.rendered.Add(1)
	}
	s.record(result, s.now().Sub(start))
	return result
}

func (s *Scheduler) renderOne(ctx context.Context, st *surfaceState, frame Frame) error {
	rctx := ctx
	if s.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, s.cfg.RenderTimeout)
		defer cancel()
	}

	err := st.surface.Render(rctx, frame)
	if err == nil {
		if st.failures > 0 {
			s.logger.Info("Surface recovered", "surface", surfaceName(st.surface), "failed_ticks", st.failures)
		}
		st.failures = 0
		return nil
	}

	st.failures++
	if st.failures == 1 {
		s.logger.Warn("Render failed, skipping tick",
			"surface", surfaceName(st.surface), "tick", frame.Tick, "error", err)
	} else {
		s.logger.Debug("Render still failing",
			"surface", surfaceName(st.surface), "tick", frame.Tick, "failures", st.failures, "error", err)
	}
	return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrRenderFailed, err),
		"RenderScheduler", "Tick", "render surface")
}

func (s *Scheduler) record(r Result, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordRender(string(r), d)
	}
}

// Stats are lifetime tick counters.
type Stats struct {
	Ticks    uint64 `json:"ticks"`
	Rendered int64  `json:"rendered"`
	Skipped  int64  `json:"skipped"`
	Failed   int64  `json:"failed"`
}

// Stats returns lifetime tick counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:    s.ticks.Load(),
		Rendered: s.rendered.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
	}
}

// Named is implemented by surfaces that want a readable name in logs.
type Named interface {
	Name() string
}

func surfaceName(s Surface) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
