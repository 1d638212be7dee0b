package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/health"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/render"
	"github.com/Amanmahe/chords-demo/sample"
)

// Client is the part of natsclient.Client the surface uses.
type Client interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// SampleBatch is the JSON document published per tick. Samples holds
// [seq, channel, value] triples for every sample appended since the last
// batch. Gap is set when samples were evicted or fell outside the window
// before they could be published.
type SampleBatch struct {
	Generation uint64         `json:"generation"`
	Start      uint64         `json:"start"`
	End        uint64         `json:"end"`
	BitMode    sample.BitMode `json:"bit_mode"`
	Width      sample.BitMode `json:"width"`
	Gap        bool           `json:"gap"`
	Timestamp  time.Time      `json:"timestamp"`
	Samples    [][3]int64     `json:"samples"`
}

// OutputDeps holds runtime dependencies for the NATS surface
type OutputDeps struct {
	Config          Config
	Client          Client
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// Output publishes the samples each frame adds. Samples are published
// once; a frame with nothing new publishes nothing.
type Output struct {
	config  Config
	client  Client
	logger  *slog.Logger
	metrics *outputMetrics

	ensured bool // render goroutine only
	lastGen uint64
	next    uint64
	started bool

	published atomic.Int64
	samples   atomic.Int64
	errCount  atomic.Int64
	gaps      atomic.Int64
}

var _ render.Surface = (*Output)(nil)

type outputMetrics struct {
	messages prometheus.Counter
	samples  prometheus.Counter
	gaps     prometheus.Counter
}

func newOutputMetrics(registry *metric.MetricsRegistry) *outputMetrics {
	if registry == nil {
		return nil
	}
	m := &outputMetrics{
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats_output",
			Name:      "messages_published_total",
			Help:      "Messages published by the NATS surface",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats_output",
			Name:      "samples_published_total",
			Help:      "Samples published by the NATS surface",
		}),
		gaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats_output",
			Name:      "gaps_total",
			Help:      "Ticks where samples were lost before they could be published",
		}),
	}
	_ = registry.RegisterCounter("nats_output", "messages_published", m.messages)
	_ = registry.RegisterCounter("nats_output", "samples_published", m.samples)
	_ = registry.RegisterCounter("nats_output", "gaps", m.gaps)
	return m
}

// NewOutput creates the NATS surface
func NewOutput(deps OutputDeps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "nats-output", "NewOutput", "check client")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{
		config:  deps.Config,
		client:  deps.Client,
		logger:  logger.With("component", "nats-output", "subject", deps.Config.Subject),
		metrics: newOutputMetrics(deps.MetricsRegistry),
	}, nil
}

// Name identifies the surface in scheduler logs
func (o *Output) Name() string { return "nats" }

// Published returns the number of messages published
func (o *Output) Published() int64 { return o.published.Load() }

// Health reports the surface as degraded once publishes start failing
func (o *Output) Health() health.Status {
	st := health.NewHealthy("nats-output", "publishing to "+o.config.Subject)
	if errs := o.errCount.Load(); errs > 0 {
		st = health.NewDegraded("nats-output", strconv.FormatInt(errs, 10)+" publish errors")
	}
	return st.WithMetrics(&health.Metrics{
		ErrorCount:        o.errCount.Load(),
		PayloadsProcessed: o.published.Load(),
	})
}

// Render publishes the samples this frame adds.
func (o *Output) Render(ctx context.Context, f render.Frame) error {
	if err := o.ensureStream(ctx); err != nil {
		return err
	}

	w := f.Window
	if !o.started || w.Generation != o.lastGen {
		o.started = true
		o.lastGen = w.Generation
		o.next = w.Start
	}

	var fresh []sample.Sample
	for k, s := range w.Samples {
		if s.Seq >= o.next {
			fresh = w.Samples[k:]
			break
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	gap := fresh[0].Seq > o.next
	if gap {
		o.gaps.Add(1)
		if o.metrics != nil {
			o.metrics.gaps.Inc()
		}
	}

	var messages []message
	switch o.config.Format {
	case FormatLines:
		if gap {
			// Rows cut by the eviction would publish without their first channels.
			skip := 0
			for skip < len(fresh) && fresh[skip].Channel != 0 {
				skip++
			}
			if skip > 0 {
				o.next = fresh[skip-1].Seq + 1
				fresh = fresh[skip:]
			}
			if len(fresh) == 0 {
				return nil
			}
		}
		messages = encodeLines(fresh, o.config.Marker)
	default:
		data, err := json.Marshal(newSampleBatch(f, fresh, gap))
		if err != nil {
			return errors.WrapInvalid(err, "nats-output", "Render", "marshal batch")
		}
		messages = []message{{data: data, last: fresh[len(fresh)-1].Seq, count: len(fresh)}}
	}

	for _, msg := range messages {
		if err := o.publish(ctx, msg.data); err != nil {
			o.errCount.Add(1)
			return err
		}
		o.next = msg.last + 1
		o.published.Add(1)
		o.samples.Add(int64(msg.count))
		if o.metrics != nil {
			o.metrics.messages.Inc()
			o.metrics.samples.Add(float64(msg.count))
		}
	}
	return nil
}

func (o *Output) ensureStream(ctx context.Context) error {
	if o.config.Stream == "" || o.ensured {
		return nil
	}
	_, err := o.client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     o.config.Stream,
		Subjects: []string{o.config.Subject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		o.errCount.Add(1)
		return errors.WrapTransient(err, "nats-output", "Render", "ensure stream "+o.config.Stream)
	}
	o.ensured = true
	o.logger.Info("Recording session to stream", "stream", o.config.Stream)
	return nil
}

func (o *Output) publish(ctx context.Context, data []byte) error {
	var err error
	if o.config.Stream != "" {
		err = o.client.PublishToStream(ctx, o.config.Subject, data)
	} else {
		err = o.client.Publish(ctx, o.config.Subject, data)
	}
	if err != nil {
		return errors.WrapTransient(err, "nats-output", "Render", "publish")
	}
	return nil
}

func newSampleBatch(f render.Frame, fresh []sample.Sample, gap bool) SampleBatch {
	b := SampleBatch{
		Generation: f.Window.Generation,
		Start:      fresh[0].Seq,
		End:        fresh[len(fresh)-1].Seq + 1,
		BitMode:    f.BitMode,
		Gap:        gap,
		Timestamp:  f.Timestamp,
		Samples:    make([][3]int64, len(fresh)),
	}
	for k, s := range fresh {
		b.Samples[k] = [3]int64{int64(s.Seq), int64(s.Channel), int64(s.Value)}
		if s.Width > b.Width {
			b.Width = s.Width
		}
	}
	return b
}

// message is one publish and the last sample sequence it carries.
type message struct {
	data  []byte
	last  uint64
	count int
}

// encodeLines regroups samples into the rows they were decoded from. A row
// ends where the channel number stops increasing.
func encodeLines(samples []sample.Sample, marker string) []message {
	var out []message
	var sb strings.Builder
	var row message
	prev := -1
	flush := func() {
		if sb.Len() > 0 {
			row.data = []byte(sb.String())
			out = append(out, row)
			row = message{}
			sb.Reset()
		}
	}
	for _, s := range samples {
		if s.Channel <= prev {
			flush()
		}
		if sb.Len() == 0 {
			if s.Width.IsFixed() {
				sb.WriteString(marker)
				sb.WriteString(strconv.Itoa(s.Width.Bits()))
				sb.WriteByte(':')
			}
		} else {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(int64(s.Value), 10))
		row.last = s.Seq
		row.count++
		prev = s.Channel
	}
	flush()
	return out
}
