// Package udp provides a gateway that receives payloads as UDP datagrams.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/health"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/pkg/retry"
)

// Metrics holds Prometheus metrics for the UDP gateway
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	packetsDropped  prometheus.Counter
	socketErrors    prometheus.Counter
	lastActivity    prometheus.Gauge
}

// newMetrics creates and registers UDP gateway metrics
func newMetrics(registry *metric.MetricsRegistry, port int) *Metrics {
	// nil input = nil feature
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"port": strconv.Itoa(port)}
	metrics := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "packets_received_total",
			Help:        "Total UDP datagrams received",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "bytes_received_total",
			Help:        "Total bytes received from UDP",
			ConstLabels: labels,
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "packets_dropped_total",
			Help:        "Datagrams dropped because the feed was full",
			ConstLabels: labels,
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "socket_errors_total",
			Help:        "Socket read errors encountered",
			ConstLabels: labels,
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of last received datagram",
			ConstLabels: labels,
		}),
	}

	serviceName := fmt.Sprintf("udp_%d", port)
	_ = registry.RegisterCounter(serviceName, "packets_received", metrics.packetsReceived)
	_ = registry.RegisterCounter(serviceName, "bytes_received", metrics.bytesReceived)
	_ = registry.RegisterCounter(serviceName, "packets_dropped", metrics.packetsDropped)
	_ = registry.RegisterCounter(serviceName, "socket_errors", metrics.socketErrors)
	_ = registry.RegisterGauge(serviceName, "last_activity", metrics.lastActivity)

	return metrics
}

// InputConfig holds configuration for the UDP gateway
type InputConfig struct {
	Bind string `json:"bind" yaml:"bind"`
	Port int    `json:"port" yaml:"port"` // 0 picks a free port
	// ReadBuffer is the requested OS socket buffer in bytes
	ReadBuffer int `json:"read_buffer" yaml:"read_buffer"`
}

// DefaultConfig returns sensible defaults for UDP input
func DefaultConfig() InputConfig {
	return InputConfig{
		Bind:       "0.0.0.0",
		Port:       5005,
		ReadBuffer: 2 * 1024 * 1024,
	}
}

// Validate checks the configuration
func (c InputConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", c.Port),
			"udp-input", "Validate", "port validation")
	}
	if c.Bind != "" && net.ParseIP(c.Bind) == nil && c.Bind != "localhost" {
		return errors.WrapInvalid(fmt.Errorf("invalid bind address %q", c.Bind),
			"udp-input", "Validate", "address validation")
	}
	return nil
}

// InputDeps holds runtime dependencies for the UDP gateway
type InputDeps struct {
	Name            string                  // Instance name
	Config          InputConfig             // Business logic configuration
	MetricsRegistry *metric.MetricsRegistry // Runtime dependency
	Logger          *slog.Logger            // Runtime dependency
}

// Input is a gateway that publishes every received datagram as one payload.
// It reports connected while the socket is bound.
type Input struct {
	name   string
	cfg    InputConfig
	logger *slog.Logger

	retryConfig retry.Config

	// Lifecycle management
	cancel    context.CancelFunc
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	conn      *net.UDPConn

	// Metrics (atomic for thread safety)
	messagesReceived atomic.Int64
	bytesReceived    atomic.Int64
	dropped          atomic.Int64
	errors           atomic.Int64
	lastActivity     atomic.Value // stores time.Time

	// Prometheus metrics
	metrics *Metrics
}

var _ gateway.Gateway = (*Input)(nil)

// NewInput creates a UDP gateway
func NewInput(deps InputDeps) (*Input, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = fmt.Sprintf("udp-%d", deps.Config.Port)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u := &Input{
		name:        name,
		cfg:         deps.Config,
		logger:      logger.With("component", "udp-input", "port", deps.Config.Port),
		retryConfig: retry.Quick(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, deps.Config.Port),
	}
	u.lastActivity.Store(time.Time{})
	return u, nil
}

// Name returns the gateway name
func (u *Input) Name() string { return u.name }

// Addr returns the bound address, or nil when not running
func (u *Input) Addr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Health returns the current health status of the gateway
func (u *Input) Health() health.Status {
	u.mu.RLock()
	connected := u.conn != nil
	u.mu.RUnlock()

	var st health.Status
	if u.running.Load() && connected {
		st = health.NewHealthy(u.name, "socket bound")
	} else {
		st = health.NewUnhealthy(u.name, "socket closed")
	}

	lastActivity, _ := u.lastActivity.Load().(time.Time)
	return st.WithMetrics(&health.Metrics{
		Uptime:            time.Since(u.startTime),
		ErrorCount:        u.errors.Load(),
		PayloadsProcessed: u.messagesReceived.Load(),
		LastActivity:      lastActivity,
	})
}

// Start binds the socket and begins publishing datagrams
func (u *Input) Start(ctx context.Context, pub gateway.Publisher) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "udp-input", "Start", "start gateway")
	}

	pub.Publish(gateway.StatusEvent(u.name, gateway.StatusConnecting, nil))

	if err := retry.Do(ctx, u.retryConfig, u.bindSocket); err != nil {
		wrapped := errors.WrapTransient(err, "udp-input", "Start", "socket binding")
		pub.Publish(gateway.StatusEvent(u.name, gateway.StatusDisconnected, wrapped))
		return wrapped
	}

	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	u.done = make(chan struct{})
	u.running.Store(true)
	u.startTime = time.Now()

	pub.Publish(gateway.StatusEvent(u.name, gateway.StatusConnected, nil))
	u.logger.Info("UDP gateway listening", "addr", u.conn.LocalAddr().String())

	conn := u.conn
	go func() {
		defer close(u.done)
		reason := u.readLoop(runCtx, conn, pub)
		u.running.Store(false)
		u.closeConn()
		pub.Publish(gateway.StatusEvent(u.name, gateway.StatusDisconnected, reason))
	}()

	return nil
}

// bindSocket creates and binds the UDP socket
func (u *Input) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(u.cfg.Bind, strconv.Itoa(u.cfg.Port)))
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("failed to resolve UDP address %s:%d: %w", u.cfg.Bind, u.cfg.Port, err))
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", u.cfg.Port, err)
	}

	if u.cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(u.cfg.ReadBuffer); err != nil {
			// some systems limit buffer size
			u.logger.Warn("Could not set UDP buffer size",
				"buffer_size", u.cfg.ReadBuffer,
				"error", err)
		}
	}

	u.conn = conn
	return nil
}

// Stop closes the socket and waits for the read loop with the given timeout
func (u *Input) Stop(timeout time.Duration) error {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	// Close UDP connection to unblock readLoop
	u.closeConn()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"udp-input", "Stop", "graceful shutdown")
	}
}

func (u *Input) closeConn() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		_ = u.conn.Close()
		u.conn = nil
	}
}

// readLoop publishes datagrams until ctx is done. It returns the reason the
// socket stopped, nil for a requested stop.
func (u *Input) readLoop(ctx context.Context, conn *net.UDPConn, pub gateway.Publisher) error {
	udpBuffer := make([]byte, 65536)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Set read deadline to check shutdown periodically
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, _, err := conn.ReadFromUDP(udpBuffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}

			u.errors.Add(1)
			if u.metrics != nil {
				u.metrics.socketErrors.Inc()
			}
			if !errors.IsTransient(err) {
				return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
					"udp-input", "readLoop", "socket read")
			}
			continue
		}
		if n == 0 {
			continue
		}

		u.messagesReceived.Add(1)
		u.bytesReceived.Add(int64(n))
		now := time.Now()
		u.lastActivity.Store(now)

		if u.metrics != nil {
			u.metrics.packetsReceived.Inc()
			u.metrics.bytesReceived.Add(float64(n))
			u.metrics.lastActivity.Set(float64(now.Unix()))
		}

		data := make([]byte, n)
		copy(data, udpBuffer[:n])

		if !pub.Publish(gateway.PayloadEvent(u.name, data, now)) {
			u.dropped.Add(1)
			if u.metrics != nil {
				u.metrics.packetsDropped.Inc()
			}
		}
	}
}
