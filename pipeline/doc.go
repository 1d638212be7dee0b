// Package pipeline runs the ingestion half of the system.
//
// A Pipeline reads events from a gateway.Feed one at a time. Status events
// drive the connection state machine
//
//	disconnected -> connecting -> connected -> disconnected
//
// and payload events are decoded with the bit mode current at that moment
// and appended to the sample buffer. Payloads that arrive while the gateway
// is not connected are counted and dropped. A disconnect keeps the buffered
// samples; only Reset clears them.
//
// Decode failures never stop ingestion. They are counted per kind and folded
// into a sliding window that backs the degraded-signal indicator reported by
// Health and Signal.
//
// The pipeline also implements Controls, the operator surface used by the
// websocket and terminal adapters.
package pipeline
