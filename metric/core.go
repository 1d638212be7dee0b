package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the pipeline.
const Namespace = "chords"

// Connection state values exported by the connection_state gauge.
const (
	StateDisconnected = 0
	StateConnecting   = 1
	StateConnected    = 2
)

// Metrics contains the pipeline-level metrics shared by every component.
type Metrics struct {
	PayloadsReceived *prometheus.CounterVec
	SamplesAppended  prometheus.Counter
	DecodeErrors     *prometheus.CounterVec
	PayloadsIgnored  *prometheus.CounterVec

	RenderTicks    *prometheus.CounterVec
	RenderDuration prometheus.Histogram

	ConnectionState prometheus.Gauge
	Connections     prometheus.Counter
	SignalErrorRate prometheus.Gauge
	FeedOverflows   prometheus.Counter
	BufferedSamples prometheus.Gauge
	GatewayRetries  *prometheus.CounterVec
	HealthStatus    *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PayloadsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "payloads_received_total",
				Help:      "Total number of raw payloads received from the gateway",
			},
			[]string{"gateway"},
		),

		SamplesAppended: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "samples_appended_total",
				Help:      "Total number of decoded samples appended to the sample buffer",
			},
		),

		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "decode_errors_total",
				Help:      "Total number of payloads rejected by the decoder",
			},
			[]string{"kind"},
		),

		PayloadsIgnored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "payloads_ignored_total",
				Help:      "Payloads discarded without decoding",
			},
			[]string{"reason"},
		),

		RenderTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "render",
				Name:      "ticks_total",
				Help:      "Render ticks by outcome (rendered, skipped, failed)",
			},
			[]string{"result"},
		),

		RenderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "render",
				Name:      "duration_seconds",
				Help:      "Time spent in rendering surfaces per tick",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .016, .025, .05, .1},
			},
		),

		ConnectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "connection_state",
				Help:      "Connection state (0=disconnected, 1=connecting, 2=connected)",
			},
		),

		Connections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "connections_total",
				Help:      "Total number of established connections",
			},
		),

		SignalErrorRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "signal_error_rate",
				Help:      "Decode error ratio over the signal quality window (0.0 to 1.0)",
			},
		),

		FeedOverflows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "feed_overflows_total",
				Help:      "Gateway events dropped because the feed reached max pending",
			},
		),

		BufferedSamples: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "buffer",
				Name:      "retained_samples",
				Help:      "Samples currently retained by the sample buffer",
			},
		),

		GatewayRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "retries_total",
				Help:      "Gateway open/reconnect retries",
			},
			[]string{"gateway"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Component health (0=unhealthy, 1=degraded, 2=healthy)",
			},
			[]string{"component"},
		),
	}
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.PayloadsReceived,
		m.SamplesAppended,
		m.DecodeErrors,
		m.PayloadsIgnored,
		m.RenderTicks,
		m.RenderDuration,
		m.ConnectionState,
		m.Connections,
		m.SignalErrorRate,
		m.FeedOverflows,
		m.BufferedSamples,
		m.GatewayRetries,
		m.HealthStatus,
	)
}

// RecordPayload counts one payload received from the named gateway
func (m *Metrics) RecordPayload(gateway string) {
	m.PayloadsReceived.WithLabelValues(gateway).Inc()
}

// RecordSamples adds n to the appended samples counter
func (m *Metrics) RecordSamples(n int) {
	m.SamplesAppended.Add(float64(n))
}

// RecordDecodeError counts a rejected payload by error kind
func (m *Metrics) RecordDecodeError(kind string) {
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

// RecordIgnored counts a payload dropped before decoding
func (m *Metrics) RecordIgnored(reason string) {
	m.PayloadsIgnored.WithLabelValues(reason).Inc()
}

// RecordRender records one tick outcome and, for attempted renders, its duration
func (m *Metrics) RecordRender(result string, d time.Duration) {
	m.RenderTicks.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.RenderDuration.Observe(d.Seconds())
	}
}

// RecordConnectionState sets the connection state gauge
func (m *Metrics) RecordConnectionState(state int) {
	m.ConnectionState.Set(float64(state))
	if state == StateConnected {
		m.Connections.Inc()
	}
}

// RecordHealth exports a component health level
func (m *Metrics) RecordHealth(component string, level int) {
	m.HealthStatus.WithLabelValues(component).Set(float64(level))
}
