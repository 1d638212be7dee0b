package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Amanmahe/chords-demo/decoder"
	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/health"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/mode"
	"github.com/Amanmahe/chords-demo/sample"
)

// QualityConfig controls the degraded-signal indicator.
type QualityConfig struct {
	Window            time.Duration `json:"window" yaml:"window"`
	Buckets           int           `json:"buckets" yaml:"buckets"`
	DegradedErrorRate float64       `json:"degraded_error_rate" yaml:"degraded_error_rate"`
	MinPayloads       int64         `json:"min_payloads" yaml:"min_payloads"`
}

// Config holds pipeline settings.
type Config struct {
	Quality QualityConfig `json:"health" yaml:"health"`
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		Quality: QualityConfig{
			Window:            5 * time.Second,
			Buckets:           10,
			DegradedErrorRate: 0.2,
			MinPayloads:       20,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	q := c.Quality
	switch {
	case q.Window <= 0:
		return errors.WrapInvalid(fmt.Errorf("health window must be positive, got %s", q.Window),
			"Pipeline", "Validate", "check health window")
	case q.Buckets <= 0:
		return errors.WrapInvalid(fmt.Errorf("health buckets must be positive, got %d", q.Buckets),
			"Pipeline", "Validate", "check health buckets")
	case q.DegradedErrorRate <= 0 || q.DegradedErrorRate > 1:
		return errors.WrapInvalid(fmt.Errorf("degraded error rate must be in (0, 1], got %v", q.DegradedErrorRate),
			"Pipeline", "Validate", "check error rate")
	case q.MinPayloads < 0:
		return errors.WrapInvalid(fmt.Errorf("min payloads must be >= 0, got %d", q.MinPayloads),
			"Pipeline", "Validate", "check min payloads")
	}
	return nil
}

// Deps holds runtime dependencies for the pipeline.
type Deps struct {
	Config          Config
	Buffer          *sample.Buffer
	Decoder         *decoder.Decoder
	Modes           *mode.Controller
	Feed            *gateway.Feed
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
	Clock           func() time.Time        // optional, for tests
}

// Pipeline is the ingestion side: it consumes gateway events, tracks the
// connection state, decodes payloads with the current bit mode and appends
// the samples to the buffer.
type Pipeline struct {
	cfg     Config
	buffer  *sample.Buffer
	decoder *decoder.Decoder
	modes   *mode.Controller
	feed    *gateway.Feed
	metrics *metric.Metrics
	logger  *slog.Logger
	now     func() time.Time
	quality *qualityWindow

	mu         sync.RWMutex
	status     gateway.Status
	session    string
	lastReason error
	since      time.Time

	payloads     atomic.Int64
	decodeErrors atomic.Int64
	ignored      atomic.Int64
	samples      atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	startTime    time.Time
	running      atomic.Bool
}

// New creates a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	if deps.Buffer == nil || deps.Decoder == nil || deps.Modes == nil || deps.Feed == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Pipeline", "New", "check dependencies")
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

	var metrics *metric.Metrics
	if deps.MetricsRegistry != nil {
		metrics = deps.MetricsRegistry.CoreMetrics()
	}

	q := deps.Config.Quality
	return &Pipeline{
		cfg:       deps.Config,
		buffer:    deps.Buffer,
		decoder:   deps.Decoder,
		modes:     deps.Modes,
		feed:      deps.Feed,
		metrics:   metrics,
		logger:    logger.With("component", "pipeline"),
		now:       now,
		quality:   newQualityWindow(q.Window, q.Buckets, now),
		status:    gateway.StatusDisconnected,
		since:     now(),
		startTime: now(),
	}, nil
}

// Run consumes the feed until ctx is done or the feed is closed and drained.
// Only the wait for the next event blocks.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pipeline", "Run", "start ingestion")
	}
	defer p.running.Store(false)

	p.logger.Info("Ingestion started")
	for {
		ev, err := p.feed.Next(ctx)
		if err != nil {
			if stderrors.Is(err, errors.ErrShuttingDown) || ctx.Err() != nil {
				p.logger.Info("Ingestion stopped", "payloads", p.payloads.Load())
				return nil
			}
			return errors.Wrap(err, "Pipeline", "Run", "read feed")
		}
		p.Handle(ev)
	}
}

// Handle applies one gateway event.
func (p *Pipeline) Handle(ev gateway.Event) {
	switch ev.Kind {
	case gateway.EventStatus:
		p.handleStatus(ev)
	case gateway.EventPayload:
		p.handlePayload(ev)
	}
}

func (p *Pipeline) handleStatus(ev gateway.Event) {
	p.mu.Lock()
	prev := p.status
	next := ev.Status
	if prev == next {
		p.mu.Unlock()
		return
	}

	switch {
	case next == gateway.StatusConnected:
		if prev == gateway.StatusDisconnected {
			p.logger.Debug("Gateway skipped connecting state", "source", ev.Source)
		}
		p.session = uuid.NewString()
		p.lastReason = nil
	case next == gateway.StatusConnecting && prev == gateway.StatusConnected:
		p.logger.Info("Gateway reconnecting", "source", ev.Source, "session", p.session)
		p.session = ""
	case next == gateway.StatusDisconnected:
		p.session = ""
		p.lastReason = ev.Reason
	}

	p.status = next
	p.since = p.now()
	session := p.session
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordConnectionState(stateValue(next))
	}

	attrs := []any{"source", ev.Source, "from", prev.String(), "to", next.String()}
	if session != "" {
		attrs = append(attrs, "session", session)
	}
	if ev.Reason != nil {
		attrs = append(attrs, "reason", ev.Reason)
	}
	if next == gateway.StatusDisconnected && ev.Reason != nil {
		p.logger.Warn("Connection state changed", attrs...)
	} else {
		p.logger.Info("Connection state changed", attrs...)
	}
}

func (p *Pipeline) handlePayload(ev gateway.Event) {
	p.mu.RLock()
	status := p.status
	p.mu.RUnlock()

	if status != gateway.StatusConnected {
		p.ignored.Add(1)
		if p.metrics != nil {
			p.metrics.RecordIgnored("not_connected")
		}
		return
	}

	p.payloads.Add(1)
	p.lastActivity.Store(p.now().UnixNano())
	if p.metrics != nil {
		p.metrics.RecordPayload(ev.Source)
	}

	m := p.modes.BitMode()
	samples, err := p.decoder.Decode(ev.Payload, m)
	p.quality.record(err != nil)
	if p.metrics != nil {
		p.metrics.SignalErrorRate.Set(errorRate(p.quality.totals()))
	}

	if err != nil {
		p.decodeErrors.Add(1)
		kind := decoder.KindOf(err)
		if p.metrics != nil {
			p.metrics.RecordDecodeError(kind)
		}
		p.logger.Debug("Payload rejected", "kind", kind, "bit_mode", m.String(), "error", err)
		return
	}
	if len(samples) == 0 {
		return
	}

	p.buffer.Append(samples)
	p.samples.Add(int64(len(samples)))
	if p.metrics != nil {
		p.metrics.RecordSamples(len(samples))
	}
}

func stateValue(s gateway.Status) int {
	switch s {
	case gateway.StatusConnected:
		return metric.StateConnected
	case gateway.StatusConnecting:
		return metric.StateConnecting
	default:
		return metric.StateDisconnected
	}
}

// Status returns the current connection state.
func (p *Pipeline) Status() gateway.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Session returns the id of the current connection, or "" when not connected.
func (p *Pipeline) Session() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// Signal summarizes the current connection and recent decode quality.
func (p *Pipeline) Signal() sample.Signal {
	p.mu.RLock()
	status, session := p.status, p.session
	p.mu.RUnlock()

	payloads, errs := p.quality.totals()
	return sample.Signal{
		Connection: status.String(),
		Session:    session,
		Payloads:   payloads,
		Errors:     errs,
		ErrorRate:  errorRate(payloads, errs),
		Degraded:   p.degraded(payloads, errs),
	}
}

func (p *Pipeline) degraded(payloads, errs int64) bool {
	q := p.cfg.Quality
	return payloads > 0 && payloads >= q.MinPayloads && errorRate(payloads, errs) > q.DegradedErrorRate
}

// Health reports unhealthy while disconnected, degraded while connecting or
// while the recent decode error rate is above the threshold.
func (p *Pipeline) Health() health.Status {
	p.mu.RLock()
	status, reason, since := p.status, p.lastReason, p.since
	p.mu.RUnlock()

	payloads, errs := p.quality.totals()
	rate := errorRate(payloads, errs)

	var st health.Status
	switch {
	case status == gateway.StatusDisconnected && reason != nil:
		st = health.FromError("pipeline", reason)
	case status == gateway.StatusDisconnected:
		st = health.NewUnhealthy("pipeline", "gateway disconnected")
	case status == gateway.StatusConnecting:
		st = health.NewDegraded("pipeline", "gateway connecting")
	case p.degraded(payloads, errs):
		st = health.NewDegraded("pipeline",
			fmt.Sprintf("decode error rate %.0f%% over the last %s", rate*100, p.cfg.Quality.Window))
	default:
		st = health.NewHealthy("pipeline", fmt.Sprintf("connected for %s", p.now().Sub(since).Truncate(time.Second)))
	}

	var last time.Time
	if ns := p.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return st.WithMetrics(&health.Metrics{
		Uptime:            p.now().Sub(p.startTime),
		ErrorCount:        p.decodeErrors.Load(),
		PayloadsProcessed: p.payloads.Load(),
		ErrorRate:         rate,
		LastActivity:      last,
	})
}

// Stats are lifetime counters.
type Stats struct {
	Payloads     int64 `json:"payloads"`
	DecodeErrors int64 `json:"decode_errors"`
	Ignored      int64 `json:"ignored"`
	Samples      int64 `json:"samples"`
}

// Stats returns lifetime counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Payloads:     p.payloads.Load(),
		DecodeErrors: p.decodeErrors.Load(),
		Ignored:      p.ignored.Load(),
		Samples:      p.samples.Load(),
	}
}
