package websocket

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Amanmahe/chords-demo/decoder"
	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/health"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/pkg/tlsutil"
)

// Metrics holds Prometheus metrics for the websocket gateway
type Metrics struct {
	messagesReceived  *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	reconnectAttempts prometheus.Counter
	errorsTotal       *prometheus.CounterVec
}

// newMetrics creates and registers websocket gateway metrics
func newMetrics(registry *metric.MetricsRegistry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket_input",
			Name:      "messages_received_total",
			Help:      "Total messages received via WebSocket",
		}, []string{"component", "type"}),

		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket_input",
			Name:      "connections_active",
			Help:      "1 while connected to the device",
		}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket_input",
			Name:      "connections_total",
			Help:      "Total number of successful connections",
		}),

		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket_input",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnection attempts",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket_input",
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"component", "type"}),
	}

	_ = registry.RegisterCounterVec(componentName, "messages_received", metrics.messagesReceived)
	_ = registry.RegisterCounterVec(componentName, "errors_total", metrics.errorsTotal)
	_ = registry.RegisterCounter(componentName, "connections_total", metrics.connectionsTotal)
	_ = registry.RegisterCounter(componentName, "reconnect_attempts", metrics.reconnectAttempts)
	_ = registry.RegisterGauge(componentName, "connections_active", metrics.connectionsActive)

	return metrics
}

// InputDeps holds runtime dependencies for the websocket gateway
type InputDeps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// Input dials a device that streams samples over a websocket. Binary
// messages may carry several frames; text messages may carry several lines.
type Input struct {
	name    string
	config  Config
	logger  *slog.Logger
	metrics *Metrics
	dialer  *websocket.Dialer

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	running  atomic.Bool
	clientMu sync.Mutex
	wsClient *websocket.Conn

	status            atomic.Int32
	reconnectAttempts atomic.Int32
	messagesReceived  atomic.Int64
	payloads          atomic.Int64
	errorCount        atomic.Int64
	lastActivity      atomic.Value // time.Time
	startTime         time.Time
}

var _ gateway.Gateway = (*Input)(nil)

// NewInput creates a websocket gateway
func NewInput(deps InputDeps) (*Input, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	name := deps.Name
	if name == "" {
		name = "websocket"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: deps.Config.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if strings.HasPrefix(deps.Config.URL, "wss://") {
		tlsCfg, err := tlsutil.LoadClientConfig(deps.Config.TLS)
		if err != nil {
			return nil, errors.Wrap(err, "websocket-input", "NewInput", "load TLS config")
		}
		dialer.TLSClientConfig = tlsCfg
	}

	i := &Input{
		name:      name,
		config:    deps.Config,
		logger:    logger.With("component", "websocket-input", "name", name),
		metrics:   newMetrics(deps.MetricsRegistry, "websocket_input_"+name),
		dialer:    dialer,
		startTime: time.Now(),
	}
	i.lastActivity.Store(time.Time{})
	return i, nil
}

// Name returns the gateway name
func (i *Input) Name() string { return i.name }

// Health reports the connection state
func (i *Input) Health() health.Status {
	var st health.Status
	switch gateway.Status(i.status.Load()) {
	case gateway.StatusConnected:
		st = health.NewHealthy(i.name, "connected")
	case gateway.StatusConnecting:
		st = health.NewDegraded(i.name, fmt.Sprintf("connecting, attempt %d", i.reconnectAttempts.Load()+1))
	default:
		st = health.NewUnhealthy(i.name, "disconnected")
	}
	last, _ := i.lastActivity.Load().(time.Time)
	return st.WithMetrics(&health.Metrics{
		Uptime:            time.Since(i.startTime),
		ErrorCount:        i.errorCount.Load(),
		PayloadsProcessed: i.payloads.Load(),
		LastActivity:      last,
	})
}

// Start launches the connect loop and returns immediately
func (i *Input) Start(ctx context.Context, pub gateway.Publisher) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket-input", "Start", "start gateway")
	}

	runCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	i.done = make(chan struct{})
	i.running.Store(true)
	i.startTime = time.Now()

	go func() {
		defer close(i.done)
		defer i.running.Store(false)
		i.clientConnectLoop(runCtx, pub)
	}()
	return nil
}

// Stop closes the socket and waits for the loop to finish
func (i *Input) Stop(timeout time.Duration) error {
	i.mu.Lock()
	cancel, done := i.cancel, i.done
	i.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	i.clientMu.Lock()
	if i.wsClient != nil {
		_ = i.wsClient.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		_ = i.wsClient.Close()
	}
	i.clientMu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"websocket-input", "Stop", "graceful shutdown")
	}
}

func (i *Input) setStatus(pub gateway.Publisher, s gateway.Status, reason error) {
	i.status.Store(int32(s))
	pub.Publish(gateway.StatusEvent(i.name, s, reason))
}

func (i *Input) trackError(errorType string) {
	i.errorCount.Add(1)
	if i.metrics != nil {
		i.metrics.errorsTotal.WithLabelValues(i.name, errorType).Inc()
	}
}

func (i *Input) buildAuthHeaders() http.Header {
	headers := http.Header{}
	if env := i.config.BearerTokenEnv; env != "" {
		if token := os.Getenv(env); token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}
	}
	return headers
}

func (i *Input) clientConnectLoop(ctx context.Context, pub gateway.Publisher) {
	backoff := i.config.Reconnect.backoff()
	var lastErr error

	for {
		if ctx.Err() != nil {
			i.setStatus(pub, gateway.StatusDisconnected, nil)
			return
		}
		i.setStatus(pub, gateway.StatusConnecting, nil)

		conn, _, err := i.dialer.DialContext(ctx, i.config.URL, i.buildAuthHeaders())
		if err != nil {
			if ctx.Err() != nil {
				i.setStatus(pub, gateway.StatusDisconnected, nil)
				return
			}
			i.trackError("connect_error")
			lastErr = errors.WrapTransient(err, "websocket-input", "connect", "dial "+i.config.URL)
			i.logger.Debug("Dial failed", "error", err)
		} else {
			i.reconnectAttempts.Store(0)
			lastErr = i.serve(ctx, conn, pub)
			if ctx.Err() != nil {
				i.setStatus(pub, gateway.StatusDisconnected, nil)
				return
			}
			i.logger.Warn("Device connection lost", "error", lastErr)
		}
		i.setStatus(pub, gateway.StatusDisconnected, lastErr)

		if !i.shouldReconnect() {
			return
		}
		delay := backoff.Backoff(int(i.reconnectAttempts.Load()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// serve runs one connection and returns why it ended.
func (i *Input) serve(ctx context.Context, conn *websocket.Conn, pub gateway.Publisher) error {
	if i.config.ReadLimit > 0 {
		conn.SetReadLimit(i.config.ReadLimit)
	}
	i.clientMu.Lock()
	i.wsClient = conn
	i.clientMu.Unlock()

	if i.metrics != nil {
		i.metrics.connectionsActive.Set(1)
		i.metrics.connectionsTotal.Inc()
	}
	i.logger.Info("Connected to device", "url", i.config.URL)
	i.setStatus(pub, gateway.StatusConnected, nil)

	err := i.clientReadLoop(ctx, conn, pub)

	i.clientMu.Lock()
	i.wsClient = nil
	i.clientMu.Unlock()
	_ = conn.Close()

	if i.metrics != nil {
		i.metrics.connectionsActive.Set(0)
	}
	return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
		"websocket-input", "serve", "read message")
}

// clientReadLoop reads messages until the connection fails
func (i *Input) clientReadLoop(ctx context.Context, conn *websocket.Conn, pub gateway.Publisher) error {
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				i.trackError("read_error")
			}
			return err
		}

		now := time.Now()
		i.lastActivity.Store(now)
		i.messagesReceived.Add(1)

		kind := "text"
		split := bufio.ScanLines
		if msgType == websocket.BinaryMessage {
			kind = "binary"
			split = decoder.ScanFrames
		}
		if i.metrics != nil {
			i.metrics.messagesReceived.WithLabelValues(i.name, kind).Inc()
		}

		sc := bufio.NewScanner(bytes.NewReader(message))
		sc.Buffer(make([]byte, 0, 4096), len(message)+1)
		sc.Split(split)
		for sc.Scan() {
			if len(sc.Bytes()) == 0 {
				continue
			}
			data := append([]byte(nil), sc.Bytes()...)
			i.payloads.Add(1)
			pub.Publish(gateway.PayloadEvent(i.name, data, now))
		}
	}
}

// shouldReconnect determines if the client should attempt reconnection
func (i *Input) shouldReconnect() bool {
	cfg := i.config.Reconnect
	if !cfg.Enabled {
		return false
	}

	current := i.reconnectAttempts.Load()
	if cfg.MaxRetries > 0 && int(current) >= cfg.MaxRetries {
		return false
	}

	i.reconnectAttempts.Add(1)
	if i.metrics != nil {
		i.metrics.reconnectAttempts.Inc()
	}
	return true
}
