// Package chords is a streaming viewer for biosignal acquisition boards. It
// reads comma-separated or framed samples from a serial port (or from UDP, a
// websocket device, NATS, or a capture file), decodes them at the selected ADC
// width, keeps a bounded history and renders it on a fixed cadence.
//
// # Architecture
//
//	┌──────────────────────────────┐
//	│          Gateway             │  serial, udp, websocket, nats, replay
//	│  (status + payload events)   │
//	└──────────────┬───────────────┘
//	               ↓ gateway.Feed (bounded, never drops status)
//	┌──────────────────────────────┐
//	│          Pipeline            │  decoder.Decode at the current bit mode
//	│  (connection state, quality) │  sample.Buffer.Append
//	└──────────────┬───────────────┘
//	               ↓ sample.Buffer (ring, generation on reset)
//	┌──────────────────────────────┐
//	│       Render scheduler       │  grid window or full history
//	│   (one frame per tick)       │  mode.Controller snapshot
//	└──────────────┬───────────────┘
//	     ┌─────────┼──────────┬─────────┬──────────┐
//	     ↓         ↓          ↓         ↓          ↓
//	 websocket   chart      nats     terminal    file
//	  browser     PNG     publisher  sparkline  recorder
//
// Operators change the bit mode, grid view and display state through
// pipeline.Controls, from a websocket client or the terminal keys.
//
// # Packages
//
// Core:
//   - sample: samples, bit modes, windows and the sample buffer
//   - decoder: text and framed payload decoding
//   - mode: bit mode, grid view and display state
//   - gateway: the Gateway interface and the event feed
//   - pipeline: ingestion and operator controls
//   - render: frames, surfaces and the render scheduler
//
// Gateways:
//   - input/serial: serial port discovery, handshake and reading
//   - input/udp: one payload per datagram
//   - input/websocket: WiFi boards streaming over a websocket
//   - input/nats: live subjects or ordered JetStream replay
//   - input/replay: captured sessions from a file or stdin
//
// Surfaces:
//   - output/websocket: browser clients with control envelopes
//   - output/chart: PNG chart served over HTTP and written to disk
//   - output/nats: sample batches published to NATS or JetStream
//   - output/terminal: sparkline view with keyboard controls
//   - output/file: CSV or JSONL session recording
//
// Infrastructure:
//   - config: layered JSON/YAML configuration with CHORDS_* overrides
//   - natsclient: NATS connection management
//   - metric: Prometheus registry and the HTTP listener
//   - health: component health and aggregation
//   - errors: classified errors
//   - pkg/buffer, pkg/retry, pkg/tlsutil: ring buffer, backoff, TLS loading
//
// # Usage
//
//	chords --config chords.yaml
//	CHORDS_SOURCE_TYPE=replay chords --config replay.yaml --log-level=debug
package chords
