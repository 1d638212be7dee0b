package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawPayload is one framed, undecoded unit of data from a gateway.
// Data must not be modified once published.
type RawPayload struct {
	Data    []byte
	Arrived time.Time
}

// Status is the connection state reported by a gateway.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalJSON encodes the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// EventKind discriminates Event.
type EventKind int

const (
	EventStatus EventKind = iota
	EventPayload
)

// Event is one item on a Feed: either a status change or a payload.
type Event struct {
	Kind    EventKind
	Status  Status
	Reason  error // why a gateway went to StatusDisconnected; nil for a clean close
	Source  string
	Payload RawPayload
}

// StatusEvent builds a status change event.
func StatusEvent(source string, status Status, reason error) Event {
	return Event{Kind: EventStatus, Status: status, Reason: reason, Source: source}
}

// PayloadEvent builds a payload event stamped with arrival time at.
func PayloadEvent(source string, data []byte, at time.Time) Event {
	return Event{Kind: EventPayload, Source: source, Payload: RawPayload{Data: data, Arrived: at}}
}
