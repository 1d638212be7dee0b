// Package serial provides the gateway for the acquisition board on a serial port.
//
// # Connecting
//
// With Config.Port set the device is opened directly. Otherwise every port
// matching Config.Candidates (by default /dev/ttyACM* and /dev/ttyUSB* on
// Linux, /dev/cu.usbmodem* on macOS, COM1-COM32 on Windows) is opened in
// turn, sent the probe "WHORU\n", and kept if it answers with the identity
// ("UNO-R4") within HandshakeTimeout. The start command "START\r\n" then
// begins streaming.
//
// Opening is retried with exponential backoff (retry.Device by default) and
// each retry is counted in chords_gateway_retries_total.
//
// # Framing
//
// FramingBinary splits the stream into 16-byte packets with decoder.ScanFrames,
// resynchronising one byte at a time after corruption. FramingLine emits one
// payload per newline-terminated line.
//
// # Status
//
// The gateway publishes connecting, connected and disconnected events. A read
// error or IdleTimeout of silence publishes disconnected with a reason that
// matches errors.ErrConnectionLost, then reconnects when Config.Reconnect is set.
//
// Usage:
//
//	in, err := serial.NewInput(serial.InputDeps{
//	    Config:          serial.DefaultConfig(),
//	    MetricsRegistry: registry,
//	    Logger:          logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := in.Start(ctx, feed); err != nil {
//	    return err
//	}
//	defer in.Stop(5 * time.Second)
package serial
