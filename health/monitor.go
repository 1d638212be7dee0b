package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Reporter is implemented by components that can describe their own health.
type Reporter interface {
	Health() Status
}

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	onChange func(name string, status Status)
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
	}
}

// OnChange registers a callback invoked after Update whenever a component's
// health level changes. It replaces any previous callback.
func (m *Monitor) OnChange(fn func(name string, status Status)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	prev, existed := m.statuses[name]
	m.statuses[name] = status
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil && (!existed || prev.Status != status.Status) {
		cb(name, status)
	}
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
}

// ListComponents returns monitored component names in sorted order
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregateHealth returns an aggregated health status for the entire system.
// Sub-statuses are ordered by component name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	names := m.ListComponents()

	m.mu.RLock()
	subStatuses := make([]Status, 0, len(names))
	for _, name := range names {
		if s, ok := m.statuses[name]; ok {
			subStatuses = append(subStatuses, s)
		}
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subStatuses)
}

// Poll refreshes the monitor from reporters every interval until ctx is done.
func (m *Monitor) Poll(ctx context.Context, interval time.Duration, reporters map[string]Reporter) {
	refresh := func() {
		for name, r := range reporters {
			m.Update(name, r.Health())
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// Handler serves the aggregated status as JSON. Unhealthy systems answer 503.
func Handler(m *Monitor, systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)
		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
