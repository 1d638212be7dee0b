// Package websocket implements a gateway that dials a WiFi acquisition board
// (or a bridge in front of one) and turns its websocket stream into payloads.
//
// Binary messages are split into 16-byte frames with decoder.ScanFrames, text
// messages into lines. Each frame or line becomes one payload event, published
// in arrival order.
//
// The gateway reports Connecting while dialing, Connected once the handshake
// completes and Disconnected with the read error when the socket drops. With
// reconnection enabled the dial is retried on the configured backoff schedule
// until MaxRetries consecutive failures (0 retries forever).
//
//	in, err := websocket.NewInput(websocket.InputDeps{
//	    Config: websocket.DefaultConfig(),
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return in.Start(ctx, feed)
package websocket
