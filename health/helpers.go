package health

import (
	"strings"
	"time"
)

func newStatus(component, level, message string) Status {
	return Status{
		Component: component,
		Healthy:   level == StatusHealthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy reports a component that is connected and keeping up.
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewDegraded reports a component that still runs but is losing data or
// waiting on a reconnect.
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

// NewUnhealthy reports a component that has stopped serving.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, message)
}

// Aggregate takes the worst level among subs. The message names the
// components at that level, e.g. "unhealthy: gateway" or
// "degraded: nats, recorder".
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "no components reporting")
	}

	worst := StatusHealthy
	lowest := 2
	var names []string
	for _, sub := range subs {
		switch lvl := sub.Level(); {
		case lvl < lowest:
			lowest, worst = lvl, sub.Status
			if lvl == 0 {
				worst = StatusUnhealthy
			}
			names = []string{sub.Component}
		case lvl == lowest && lvl < 2:
			names = append(names, sub.Component)
		}
	}

	msg := "all components healthy"
	if lowest < 2 {
		msg = worst + ": " + strings.Join(names, ", ")
	}
	status := newStatus(component, worst, msg)
	status.SubStatuses = append([]Status(nil), subs...)
	return status
}
