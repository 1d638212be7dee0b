// Package replay implements a gateway that plays back a captured session from
// a file or standard input, one payload per line (or per 16-byte frame with
// binary framing). Interval paces the payloads; Loop restarts at end of file.
//
// The gateway reports Connected while replaying and Disconnected when the
// capture ends, with a nil reason for a clean end of file.
package replay
