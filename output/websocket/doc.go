// Package websocket provides a render surface that streams frames to browser
// clients over websockets and takes display controls back from them.
//
// # Protocol
//
// Every message in either direction is a MessageEnvelope:
//
//	{"type": "frame", "id": "42", "timestamp": 1712345678901, "payload": {...}}
//
// Server to client:
//   - "frame": a FramePayload with per-channel values, the window bounds, the
//     display flags and the signal summary
//   - "state": the current mode.State, sent on connect and after each control
//   - "ack" / "error": the reply to a control envelope, echoing its id
//
// Client to server, type "control" with a ControlPayload:
//
//	{"action": "set_bit_mode", "value": "12"}
//	{"action": "set_grid_view", "value": false}
//	{"action": "set_display", "value": true}
//	{"action": "reset"}
//
// # Flow control
//
// Frames showing nothing new (same buffer generation, same end sequence, same
// display flags) are not resent, and broadcasts are throttled to MinInterval.
// Each client has a small queue; when a client falls behind its oldest
// frames are dropped so one slow browser never stalls the scheduler.
package websocket
