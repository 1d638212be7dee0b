package gateway

import (
	"context"
	"time"

	"github.com/Amanmahe/chords-demo/health"
)

// Publisher accepts events from a gateway without blocking.
// Publish reports false when the event was dropped.
type Publisher interface {
	Publish(Event) bool
}

// Gateway owns a transport (serial port, socket, subscription, file) and
// turns it into status and payload events.
//
// Start must return promptly; transport work happens on goroutines owned by
// the gateway until ctx is done or Stop is called. Stop is safe to call at any
// time, including before Start and more than once.
type Gateway interface {
	Name() string
	Start(ctx context.Context, pub Publisher) error
	Stop(timeout time.Duration) error
	Health() health.Status
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event) bool

// Publish calls f(ev).
func (f PublisherFunc) Publish(ev Event) bool { return f(ev) }
