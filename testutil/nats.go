package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Amanmahe/chords-demo/natsclient"
)

// MockNATSClient is an in-memory NATS client for testing core pub/sub and
// ordered stream replay. Method signatures match natsclient.Client.
// Thread-safe for concurrent use from multiple goroutines.
type MockNATSClient struct {
	mu            sync.RWMutex
	messages      map[string][][]byte
	subscriptions map[string][]*mockSub
	streams       map[string][]natsclient.StreamMsg
	streamConfigs map[string]jetstream.StreamConfig
	connected     bool
	closed        bool

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// ConnectCalls counts Connect invocations.
	ConnectCalls int
}

type mockSub struct {
	c       *MockNATSClient
	subject string
	handler func(context.Context, []byte)
	ctx     context.Context
}

// Unsubscribe removes the handler.
func (s *mockSub) Unsubscribe() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	subs := s.c.subscriptions[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.c.subscriptions[s.subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

type mockConsumer struct {
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

func (m *mockConsumer) Unsubscribe() error {
	m.once.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:      make(map[string][][]byte),
		subscriptions: make(map[string][]*mockSub),
		streams:       make(map[string][]natsclient.StreamMsg),
		streamConfigs: make(map[string]jetstream.StreamConfig),
	}
}

// Connect marks the client connected unless ConnectErr is set.
func (c *MockNATSClient) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	c.connected = true
	return nil
}

// Publish stores data and calls every handler subscribed to subject.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	c.messages[subject] = append(c.messages[subject], data)
	subs := append([]*mockSub(nil), c.subscriptions[subject]...)
	c.mu.Unlock()

	// handlers run outside the lock, with the real client's 30s message timeout
	for _, sub := range subs {
		msgCtx, cancel := context.WithTimeout(sub.ctx, 30*time.Second)
		sub.handler(msgCtx, data)
		cancel()
	}
	return nil
}

// Subscribe registers handler for subject.
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (natsclient.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	sub := &mockSub{c: c, subject: subject, handler: handler, ctx: ctx}
	c.subscriptions[subject] = append(c.subscriptions[subject], sub)
	return sub, nil
}

// AppendStream adds a message to an in-memory stream for ConsumeOrdered.
func (c *MockNATSClient) AppendStream(stream string, msg natsclient.StreamMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.Sequence = uint64(len(c.streams[stream]) + 1)
	c.streams[stream] = append(c.streams[stream], msg)
}

// ConsumeOrdered delivers the stream's messages in order on a goroutine.
func (c *MockNATSClient) ConsumeOrdered(_ context.Context, stream, subject string, handler func(natsclient.StreamMsg)) (natsclient.Subscription, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("client is closed")
	}
	var msgs []natsclient.StreamMsg
	for _, m := range c.streams[stream] {
		if subject == "" || m.Subject == subject {
			msgs = append(msgs, m)
		}
	}
	c.mu.RUnlock()

	consumer := &mockConsumer{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(consumer.done)
		for _, m := range msgs {
			select {
			case <-consumer.stop:
				return
			default:
			}
			handler(m)
		}
	}()
	return consumer, nil
}

// EnsureStream records the stream so PublishToStream can route to it. The
// returned stream is always nil.
func (c *MockNATSClient) EnsureStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	c.streamConfigs[cfg.Name] = cfg
	return nil, nil
}

// PublishToStream appends data to every ensured stream capturing subject and
// records it like Publish.
func (c *MockNATSClient) PublishToStream(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	var captured bool
	for name, cfg := range c.streamConfigs {
		for _, pattern := range cfg.Subjects {
			if subjectMatches(pattern, subject) {
				c.streams[name] = append(c.streams[name], natsclient.StreamMsg{
					Subject:   subject,
					Data:      data,
					Timestamp: time.Now(),
					Sequence:  uint64(len(c.streams[name]) + 1),
				})
				captured = true
				break
			}
		}
	}
	c.mu.Unlock()
	if !captured {
		return fmt.Errorf("no stream captures subject %s", subject)
	}
	return c.Publish(ctx, subject, data)
}

// StreamMessages returns a copy of the messages stored in stream.
func (c *MockNATSClient) StreamMessages(stream string) []natsclient.StreamMsg {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]natsclient.StreamMsg(nil), c.streams[stream]...)
}

// subjectMatches supports literal tokens plus the * and > wildcards.
func subjectMatches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) || (tok != "*" && tok != s[i]) {
			return false
		}
	}
	return len(p) == len(s)
}

// GetMessages returns a copy of all messages published on subject.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// SubscriberCount returns the number of live subscriptions on subject.
func (c *MockNATSClient) SubscriberCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions[subject])
}

// Close closes the mock client.
func (c *MockNATSClient) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// IsHealthy reports whether Connect succeeded and Close was not called.
func (c *MockNATSClient) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// WaitForMessageCount waits for a specific number of messages (with timeout).
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.GetMessageCount(subject) >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d messages on subject %s (got %d)",
		count, subject, client.GetMessageCount(subject))
}
