package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/health"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/natsclient"
	"github.com/Amanmahe/chords-demo/pkg/retry"
)

// Client is the part of natsclient.Client the gateway uses.
type Client interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (natsclient.Subscription, error)
	ConsumeOrdered(ctx context.Context, stream, subject string, handler func(natsclient.StreamMsg)) (natsclient.Subscription, error)
	Close(ctx context.Context) error
}

// InputDeps holds runtime dependencies for the NATS gateway
type InputDeps struct {
	Name            string
	Config          Config
	Client          Client                  // optional; built from Config.URL when nil
	Retry           *retry.Config           // optional; retry.Quick() when nil
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// Input turns NATS messages into payloads. Live mode subscribes to a
// subject; replay mode reads a JetStream stream in order.
type Input struct {
	name    string
	config  Config
	client  Client
	retry   retry.Config
	logger  *slog.Logger
	metrics *inputMetrics

	pub     atomic.Pointer[publisherBox]
	status  atomic.Int32
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	sub    natsclient.Subscription

	messages  atomic.Int64
	dropped   atomic.Int64
	startTime time.Time
	lastStamp time.Time // previous replayed message, consumer goroutine only
}

type publisherBox struct{ gateway.Publisher }

type inputMetrics struct {
	messages prometheus.Counter
	dropped  prometheus.Counter
}

func newInputMetrics(registry *metric.MetricsRegistry, name string) *inputMetrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"gateway": name}
	m := &inputMetrics{
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats_input",
			Name:        "messages_received_total",
			Help:        "Messages received from NATS",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "nats_input",
			Name:        "messages_dropped_total",
			Help:        "Messages refused by the feed",
			ConstLabels: labels,
		}),
	}
	_ = registry.RegisterCounter("nats_input_"+name, "messages_received", m.messages)
	_ = registry.RegisterCounter("nats_input_"+name, "messages_dropped", m.dropped)
	return m
}

var _ gateway.Gateway = (*Input)(nil)

// NewInput creates a NATS gateway
func NewInput(deps InputDeps) (*Input, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	name := deps.Name
	if name == "" {
		name = "nats"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rc := retry.Quick()
	if deps.Retry != nil {
		rc = *deps.Retry
	}

	i := &Input{
		name:      name,
		config:    deps.Config,
		retry:     rc,
		logger:    logger.With("component", "nats-input", "name", name),
		metrics:   newInputMetrics(deps.MetricsRegistry, name),
		startTime: time.Now(),
	}

	i.client = deps.Client
	if i.client == nil {
		c, err := natsclient.NewClient(deps.Config.URL,
			natsclient.WithName(deps.Config.ClientName),
			natsclient.WithTimeout(deps.Config.ConnectTimeout),
			natsclient.WithLogger(logger),
			natsclient.WithDisconnectCallback(i.handleDisconnect),
			natsclient.WithReconnectCallback(i.handleReconnect),
		)
		if err != nil {
			return nil, errors.WrapInvalid(err, "nats-input", "NewInput", "create client")
		}
		i.client = c
	}
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
		st = health.NewDegraded(i.name, "connecting")
	default:
		st = health.NewUnhealthy(i.name, "disconnected")
	}
	return st.WithMetrics(&health.Metrics{
		Uptime:            time.Since(i.startTime),
		PayloadsProcessed: i.messages.Load(),
		ErrorCount:        i.dropped.Load(),
	})
}

func (i *Input) setStatus(s gateway.Status, reason error) {
	i.status.Store(int32(s))
	if box := i.pub.Load(); box != nil {
		box.Publish(gateway.StatusEvent(i.name, s, reason))
	}
}

// Start connects and subscribes on a goroutine and returns immediately
func (i *Input) Start(ctx context.Context, pub gateway.Publisher) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "nats-input", "Start", "start gateway")
	}

	runCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	i.done = make(chan struct{})
	i.pub.Store(&publisherBox{pub})

	go func() {
		defer close(i.done)
		i.run(runCtx)
	}()
	return nil
}

func (i *Input) run(ctx context.Context) {
	i.setStatus(gateway.StatusConnecting, nil)

	cfg := i.retry
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		i.logger.Debug("NATS connect failed, retrying", "attempt", attempt, "error", err, "next", next)
	}
	if err := retry.Do(ctx, cfg, func() error { return i.client.Connect(ctx) }); err != nil {
		if ctx.Err() == nil {
			i.logger.Error("NATS connect failed", "url", i.config.URL, "error", err)
			i.setStatus(gateway.StatusDisconnected, errors.WrapTransient(err, "nats-input", "run", "connect"))
		}
		return
	}

	sub, err := i.subscribe(ctx)
	if err != nil {
		i.logger.Error("NATS subscribe failed", "error", err)
		i.setStatus(gateway.StatusDisconnected, err)
		return
	}
	i.mu.Lock()
	i.sub = sub
	i.mu.Unlock()

	i.logger.Info("NATS gateway connected", "subject", i.config.Subject, "stream", i.config.Stream)
	i.setStatus(gateway.StatusConnected, nil)
	<-ctx.Done()
}

func (i *Input) subscribe(ctx context.Context) (natsclient.Subscription, error) {
	if i.config.Stream != "" {
		return i.client.ConsumeOrdered(ctx, i.config.Stream, i.config.Subject, func(m natsclient.StreamMsg) {
			i.pace(ctx, m.Timestamp)
			i.deliver(m.Data)
		})
	}
	return i.client.Subscribe(ctx, i.config.Subject, func(_ context.Context, data []byte) {
		i.deliver(data)
	})
}

// pace sleeps for the gap between this and the previous replayed message.
func (i *Input) pace(ctx context.Context, stamp time.Time) {
	if !i.config.Paced || stamp.IsZero() {
		return
	}
	prev := i.lastStamp
	i.lastStamp = stamp
	if prev.IsZero() || !stamp.After(prev) {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(stamp.Sub(prev)):
	}
}

func (i *Input) deliver(data []byte) {
	if len(data) == 0 {
		return
	}
	i.messages.Add(1)
	if i.metrics != nil {
		i.metrics.messages.Inc()
	}
	box := i.pub.Load()
	if box == nil {
		return
	}
	// the client may reuse its buffer once the handler returns
	payload := append([]byte(nil), data...)
	if !box.Publish(gateway.PayloadEvent(i.name, payload, time.Now())) {
		i.dropped.Add(1)
		if i.metrics != nil {
			i.metrics.dropped.Inc()
		}
	}
}

func (i *Input) handleDisconnect(err error) {
	i.setStatus(gateway.StatusConnecting, nil)
	i.logger.Warn("NATS connection lost, reconnecting", "error", err)
}

func (i *Input) handleReconnect() {
	i.setStatus(gateway.StatusConnected, nil)
}

// Stop unsubscribes, closes the client and waits for the run loop.
func (i *Input) Stop(timeout time.Duration) error {
	i.mu.Lock()
	cancel, done := i.cancel, i.done
	i.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"nats-input", "Stop", "graceful shutdown")
	}

	i.mu.Lock()
	sub := i.sub
	i.sub = nil
	i.cancel = nil
	i.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	ctx, cancelClose := context.WithTimeout(context.Background(), timeout)
	defer cancelClose()
	err := i.client.Close(ctx)

	if gateway.Status(i.status.Load()) != gateway.StatusDisconnected {
		i.setStatus(gateway.StatusDisconnected, nil)
	}
	i.running.Store(false)
	if err != nil {
		return errors.Wrap(err, "nats-input", "Stop", "close client")
	}
	return nil
}
