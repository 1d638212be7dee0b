package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/health"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/pipeline"
	"github.com/Amanmahe/chords-demo/pkg/buffer"
	"github.com/Amanmahe/chords-demo/render"
)

// Metrics holds Prometheus metrics for the websocket surface
type Metrics struct {
	messagesSent       *prometheus.CounterVec
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	framesDropped      prometheus.Counter
	controlsTotal      *prometheus.CounterVec
	broadcastDuration  prometheus.Histogram
	messageSizeBytes   prometheus.Histogram
}

// newMetrics creates and registers websocket surface metrics
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total envelopes sent to websocket clients",
		}, []string{"type"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to websocket clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded from slow client queues",
		}),
		controlsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "controls_total",
			Help:      "Control envelopes received by action and outcome",
		}, []string{"action", "outcome"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to queue a frame for all clients",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		messageSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "message_size_bytes",
			Help:      "Size distribution of outgoing frame envelopes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 7),
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.messagesSent, m.bytesSent, m.clientsConnected, m.connectionTotal,
		m.disconnectionTotal, m.framesDropped, m.controlsTotal,
		m.broadcastDuration, m.messageSizeBytes,
	)
	return m
}

// OutputDeps holds runtime dependencies for the websocket surface
type OutputDeps struct {
	Config          Config
	Controls        pipeline.Controls       // optional; control envelopes are refused when nil
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// Output is a render surface that broadcasts frames to browser clients and
// accepts control envelopes from them. Mount Handler on an HTTP server.
type Output struct {
	config   Config
	controls pipeline.Controls
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex
	wg        sync.WaitGroup
	closed    atomic.Bool

	// render goroutine only
	lastSent time.Time
	lastKey  frameKey
	haveKey  bool

	messageID    atomic.Uint64
	framesSent   atomic.Int64
	framesSkip   atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time
	startTime    time.Time
}

// frameKey identifies what a frame shows; an identical key means no change.
type frameKey struct {
	generation uint64
	end        uint64
	gridView   bool
	bitMode    uint8
}

// clientInfo holds information about a connected client
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	queue       buffer.Buffer[[]byte]
	notify      chan struct{}
	done        chan struct{}
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMutex  sync.Mutex
}

var _ render.Surface = (*Output)(nil)

// NewOutput creates the websocket surface
func NewOutput(deps OutputDeps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Output{
		config:    deps.Config,
		controls:  deps.Controls,
		logger:    logger.With("component", "websocket-output"),
		metrics:   newMetrics(deps.MetricsRegistry),
		clients:   make(map[*websocket.Conn]*clientInfo),
		startTime: time.Now(),
	}
	o.upgrader = websocket.Upgrader{CheckOrigin: o.checkOrigin}
	o.lastActivity.Store(time.Time{})
	return o, nil
}

// Name identifies the surface in scheduler logs
func (o *Output) Name() string { return "websocket" }

// Path returns the configured mount path
func (o *Output) Path() string { return o.config.Path }

func (o *Output) checkOrigin(r *http.Request) bool {
	if len(o.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(o.config.AllowedOrigins, r.Header.Get("Origin"))
}

// ClientCount returns the number of connected clients
func (o *Output) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

// Health reports client activity
func (o *Output) Health() health.Status {
	st := health.NewHealthy("websocket-output", fmt.Sprintf("%d clients", o.ClientCount()))
	if o.closed.Load() {
		st = health.NewUnhealthy("websocket-output", "closed")
	}
	last, _ := o.lastActivity.Load().(time.Time)
	return st.WithMetrics(&health.Metrics{
		Uptime:            time.Since(o.startTime),
		ErrorCount:        o.errorCount.Load(),
		PayloadsProcessed: o.framesSent.Load(),
		LastActivity:      last,
	})
}

func (o *Output) envelope(typ, id string, payload any) ([]byte, error) {
	if id == "" {
		id = strconv.FormatUint(o.messageID.Add(1), 10)
	}
	env := MessageEnvelope{Type: typ, ID: id, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Render queues the frame for every client. Frames arriving within
// MinInterval of the last broadcast, or showing nothing new, are skipped.
func (o *Output) Render(ctx context.Context, f render.Frame) error {
	if o.closed.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "websocket-output", "Render", "render frame")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := frameKey{f.Window.Generation, f.Window.End, f.GridView, uint8(f.BitMode)}
	now := time.Now()
	if (o.haveKey && key == o.lastKey) || (!o.lastSent.IsZero() && now.Sub(o.lastSent) < o.config.MinInterval) {
		o.framesSkip.Add(1)
		return nil
	}
	if o.ClientCount() == 0 {
		return nil
	}

	data, err := o.envelope(TypeFrame, "", newFramePayload(f, o.config.MaxSamples))
	if err != nil {
		return errors.WrapInvalid(err, "websocket-output", "Render", "marshal frame")
	}
	o.lastKey, o.haveKey, o.lastSent = key, true, now

	o.broadcast(data)
	o.framesSent.Add(1)
	if o.metrics != nil {
		o.metrics.messagesSent.WithLabelValues(TypeFrame).Inc()
		o.metrics.broadcastDuration.Observe(time.Since(now).Seconds())
		o.metrics.messageSizeBytes.Observe(float64(len(data)))
	}
	return nil
}

func (o *Output) broadcast(data []byte) {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	for _, info := range o.clients {
		o.enqueue(info, data)
	}
}

func (o *Output) enqueue(info *clientInfo, data []byte) {
	if info.closed.Load() {
		return
	}
	if err := info.queue.Write(data); err != nil {
		return
	}
	select {
	case info.notify <- struct{}{}:
	default:
	}
}

// Handler upgrades requests to websocket connections
func (o *Output) Handler() http.Handler {
	return http.HandlerFunc(o.handleWebSocket)
}

func (o *Output) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	if o.closed.Load() {
		http.Error(wr, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := o.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		o.errorCount.Add(1)
		o.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	queue, err := buffer.NewCircularBuffer[[]byte](o.config.QueueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			if o.metrics != nil {
				o.metrics.framesDropped.Inc()
			}
		}),
	)
	if err != nil {
		_ = conn.Close()
		o.errorCount.Add(1)
		return
	}

	info := &clientInfo{
		conn:        conn,
		connectedAt: time.Now(),
		queue:       queue,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	o.clientsMu.Lock()
	o.clients[conn] = info
	count := len(o.clients)
	o.clientsMu.Unlock()

	if o.metrics != nil {
		o.metrics.connectionTotal.Inc()
		o.metrics.clientsConnected.Set(float64(count))
	}
	o.logger.Info("Client connected", "remote", r.RemoteAddr, "clients", count)

	if o.controls != nil {
		if data, err := o.envelope(TypeState, "", o.controls.Modes()); err == nil {
			o.enqueue(info, data)
		}
	}

	o.wg.Add(2)
	go o.writeLoop(info)
	go o.readLoop(info)
}

// writeLoop drains the client queue and keeps the connection alive with pings
func (o *Output) writeLoop(info *clientInfo) {
	defer o.wg.Done()

	var ping <-chan time.Time
	if o.config.PingInterval > 0 {
		ticker := time.NewTicker(o.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-info.done:
			return
		case <-ping:
			if err := o.write(info, websocket.PingMessage, nil); err != nil {
				o.removeClient(info, "ping_failed")
				return
			}
		case <-info.notify:
			for _, data := range info.queue.ReadBatch(info.queue.Capacity()) {
				if err := o.write(info, websocket.TextMessage, data); err != nil {
					o.removeClient(info, "write_failed")
					return
				}
				o.lastActivity.Store(time.Now())
				if o.metrics != nil {
					o.metrics.bytesSent.Add(float64(len(data)))
				}
			}
		}
	}
}

func (o *Output) write(info *clientInfo, msgType int, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()
	if o.config.WriteTimeout > 0 {
		_ = info.conn.SetWriteDeadline(time.Now().Add(o.config.WriteTimeout))
	}
	return info.conn.WriteMessage(msgType, data)
}

// readLoop handles control envelopes until the client goes away
func (o *Output) readLoop(info *clientInfo) {
	defer o.wg.Done()
	defer o.removeClient(info, "normal")

	for {
		_, data, err := info.conn.ReadMessage()
		if err != nil {
			return
		}

		var env MessageEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			o.reply(info, TypeError, "", ErrorPayload{Message: "invalid envelope"})
			continue
		}
		if env.Type != TypeControl {
			continue
		}
		o.handleControl(info, env)
	}
}

func (o *Output) reply(info *clientInfo, typ, id string, payload any) {
	data, err := o.envelope(typ, id, payload)
	if err != nil {
		return
	}
	o.enqueue(info, data)
	if o.metrics != nil {
		o.metrics.messagesSent.WithLabelValues(typ).Inc()
	}
}

func (o *Output) handleControl(info *clientInfo, env MessageEnvelope) {
	var ctl ControlPayload
	if err := json.Unmarshal(env.Payload, &ctl); err != nil {
		o.reply(info, TypeError, env.ID, ErrorPayload{Message: "invalid control payload"})
		return
	}

	err := o.apply(ctl)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if o.metrics != nil {
		o.metrics.controlsTotal.WithLabelValues(ctl.Action, outcome).Inc()
	}
	if err != nil {
		o.logger.Debug("Control rejected", "action", ctl.Action, "error", err)
		o.reply(info, TypeError, env.ID, ErrorPayload{Message: err.Error()})
		return
	}

	o.reply(info, TypeAck, env.ID, nil)
	if data, err := o.envelope(TypeState, "", o.controls.Modes()); err == nil {
		o.broadcast(data)
	}
}

func (o *Output) apply(ctl ControlPayload) error {
	if o.controls == nil {
		return fmt.Errorf("controls are disabled")
	}
	switch ctl.Action {
	case ActionSetBitMode:
		m, err := ctl.bitModeValue()
		if err != nil {
			return err
		}
		return o.controls.SetBitMode(m)
	case ActionSetGrid:
		on, err := ctl.boolValue()
		if err != nil {
			return err
		}
		o.controls.SetGridView(on)
	case ActionSetDisplay:
		on, err := ctl.boolValue()
		if err != nil {
			return err
		}
		o.controls.SetDisplayEnabled(on)
	case ActionReset:
		o.controls.Reset()
	default:
		return fmt.Errorf("unknown action %q", ctl.Action)
	}
	return nil
}

func (o *Output) removeClient(info *clientInfo, reason string) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)
		close(info.done)

		o.clientsMu.Lock()
		delete(o.clients, info.conn)
		count := len(o.clients)
		o.clientsMu.Unlock()

		if o.metrics != nil {
			o.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			o.metrics.clientsConnected.Set(float64(count))
		}
		_ = info.queue.Close()
		_ = info.conn.Close()
		o.logger.Debug("Client disconnected", "reason", reason, "clients", count)
	})
}

// Close disconnects every client and waits for their goroutines
func (o *Output) Close(timeout time.Duration) error {
	if o.closed.Swap(true) {
		return nil
	}

	o.clientsMu.RLock()
	infos := make([]*clientInfo, 0, len(o.clients))
	for _, info := range o.clients {
		infos = append(infos, info)
	}
	o.clientsMu.RUnlock()

	for _, info := range infos {
		_ = o.write(info, websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
		o.removeClient(info, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("close timeout after %v", timeout),
			"websocket-output", "Close", "wait for clients")
	}
}
