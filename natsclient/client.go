package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Amanmahe/chords-demo/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Subscription is an active subject subscription or stream consumer.
type Subscription interface {
	Unsubscribe() error
}

// Client manages a NATS connection with a circuit breaker in front of Connect.
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []Subscription

	// Circuit breaker
	failures         atomic.Int32
	circuitFailures  atomic.Int32
	backoff          atomic.Value // stores time.Duration
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	username string
	password string
	token    string

	clientName string

	onDisconnect func(error)
	onReconnect  func()
	onClosed     func()

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     5 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the number of failures since the last success
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns how long the circuit stays open after the next trip
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure counts a failure and opens the circuit at the threshold
func (m *Client) recordFailure() {
	m.failures.Add(1)
	if m.circuitFailures.Add(1) < m.circuitThreshold {
		return
	}
	m.circuitFailures.Store(0)

	current := m.backoff.Load().(time.Duration)
	next := current * 2
	if next > m.maxBackoff {
		next = m.maxBackoff
	}
	m.backoff.Store(next)

	prev := m.Status()
	if prev == StatusCircuitOpen || !m.status.CompareAndSwap(prev, StatusCircuitOpen) {
		return
	}
	m.logger.Warn("Circuit breaker opened", "failures", m.failures.Load(), "backoff", current)
	time.AfterFunc(current, func() {
		m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected)
	})
}

func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected)
}

func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}
	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	return opts
}

// Connect establishes connection to NATS server
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	if m.closed.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "Connect", "check client state")
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS", "url", m.url)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(m.url, m.buildConnectionOptions()...)
		done <- result{conn, err}
	}()

	var conn *nats.Conn
	select {
	case r := <-done:
		if r.err != nil {
			m.recordFailure()
			m.status.CompareAndSwap(StatusConnecting, StatusDisconnected)
			if m.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			return errors.WrapTransient(r.err, "Client", "Connect", "establish connection")
		}
		conn = r.conn
	case <-ctx.Done():
		m.recordFailure()
		m.status.CompareAndSwap(StatusConnecting, StatusDisconnected)
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapTransient(err, "Client", "Connect", "init jetstream")
	}

	m.mu.Lock()
	m.conn = conn
	m.js = js
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("Connected to NATS", "url", m.url)
	return nil
}

// Close unsubscribes everything and drains the connection
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	subs, conn := m.subs, m.conn
	m.subs, m.conn, m.js = nil, nil, nil
	m.username, m.password, m.token = "", "", ""
	m.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}

	if conn != nil {
		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		timeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}
		select {
		case err := <-drained:
			if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(timeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", timeout), "Client", "Close", "drain timeout"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain"))
		}
		conn.Close()
	}

	m.setStatus(StatusDisconnected)
	return stderrors.Join(errs...)
}

func (m *Client) connection() (*nats.Conn, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	conn, err := m.connection()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

// Subscribe delivers every message on subject to handler. Each call gets a
// context derived from ctx with a 30-second timeout.
func (m *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (Subscription, error) {
	conn, err := m.connection()
	if err != nil {
		return nil, err
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	m.track(sub)
	return sub, nil
}

// Publish publishes a message to a NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}
	return conn.Publish(subject, data)
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

// EnsureStream creates the stream or updates it to cfg
func (m *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if m.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create stream "+cfg.Name)
	}
	m.resetCircuit()
	return stream, nil
}

// PublishToStream publishes to a subject captured by a JetStream stream and
// waits for the acknowledgement.
func (m *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	js, err := m.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish "+subject)
	}
	return nil
}

// StreamMsg is one message delivered by ConsumeOrdered.
type StreamMsg struct {
	Subject   string
	Data      []byte
	Timestamp time.Time // time the server stored the message
	Sequence  uint64
}

// ConsumeOrdered replays a stream from the start through an ordered consumer.
// Messages arrive in stream order; an empty subject consumes the whole stream.
func (m *Client) ConsumeOrdered(ctx context.Context, stream, subject string, handler func(StreamMsg)) (Subscription, error) {
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrShuttingDown, "Client", "ConsumeOrdered", "check client state")
	}

	cfg := jetstream.OrderedConsumerConfig{DeliverPolicy: jetstream.DeliverAllPolicy}
	if subject != "" {
		cfg.FilterSubjects = []string{subject}
	}
	consumer, err := js.OrderedConsumer(ctx, stream, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "ConsumeOrdered", "create consumer on "+stream)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		out := StreamMsg{Subject: msg.Subject(), Data: msg.Data()}
		if meta, err := msg.Metadata(); err == nil {
			out.Timestamp = meta.Timestamp
			out.Sequence = meta.Sequence.Stream
		}
		handler(out)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "ConsumeOrdered", "start consuming "+stream)
	}

	sub := consumeSubscription{cc}
	m.track(sub)
	return sub, nil
}

type consumeSubscription struct {
	cc jetstream.ConsumeContext
}

func (s consumeSubscription) Unsubscribe() error {
	s.cc.Stop()
	return nil
}

func (m *Client) track(sub Subscription) {
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
}

// Event handlers for NATS connection
func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Warn("Disconnected from NATS", "error", err)
	if m.onDisconnect != nil {
		m.onDisconnect(err)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("Reconnected to NATS", "url", m.url)
	if m.onReconnect != nil {
		m.onReconnect()
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
	if m.onClosed != nil {
		m.onClosed()
	}
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Error("NATS error", "error", err)
}
