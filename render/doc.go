// Package render drives rendering surfaces at a fixed cadence.
//
// On every tick the Scheduler takes a mode snapshot. With the display
// disabled the tick is skipped and the buffer is not read. Otherwise it
// builds a Frame from either the trailing GridWindow samples (grid view) or
// the full retained history and hands it to every surface. A surface error
// skips that surface for the tick; the next tick tries again.
//
// Surfaces live in the output packages: websocket, chart, nats and terminal.
package render
