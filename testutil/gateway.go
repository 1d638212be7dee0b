package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/health"
)

// ScriptedGateway replays a fixed event script when started.
type ScriptedGateway struct {
	name   string
	script []gateway.Event

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewScriptedGateway creates a gateway that publishes script in order.
func NewScriptedGateway(name string, script ...gateway.Event) *ScriptedGateway {
	return &ScriptedGateway{name: name, script: script}
}

// Connect returns the typical session script: connecting, connected, one
// payload per line, then a clean disconnect.
func Connect(source string, lines ...string) []gateway.Event {
	now := time.Now()
	events := []gateway.Event{
		gateway.StatusEvent(source, gateway.StatusConnecting, nil),
		gateway.StatusEvent(source, gateway.StatusConnected, nil),
	}
	for _, line := range lines {
		events = append(events, gateway.PayloadEvent(source, []byte(line), now))
	}
	return events
}

// Name returns the gateway name.
func (g *ScriptedGateway) Name() string { return g.name }

// Start publishes the script on a goroutine.
func (g *ScriptedGateway) Start(ctx context.Context, pub gateway.Publisher) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ctx, g.cancel = context.WithCancel(ctx)
	g.started = true
	g.done = make(chan struct{})

	go func() {
		defer close(g.done)
		for _, ev := range g.script {
			if ctx.Err() != nil {
				return
			}
			pub.Publish(ev)
		}
	}()
	return nil
}

// Stop waits for the script to finish or be cancelled.
func (g *ScriptedGateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.stopped = true
	g.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-time.After(timeout):
	}
	return nil
}

// Done is closed once the whole script was published.
func (g *ScriptedGateway) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Stopped reports whether Stop was called.
func (g *ScriptedGateway) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// Health is always healthy.
func (g *ScriptedGateway) Health() health.Status {
	return health.NewHealthy(g.name, "scripted")
}

var _ gateway.Gateway = (*ScriptedGateway)(nil)
