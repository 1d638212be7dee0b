// Package decoder converts raw gateway payloads into samples.
//
// Two payload shapes are accepted. A text line carries decimal integers
// separated by commas, semicolons or whitespace, one value per channel:
//
//	512,498,1023
//
// A binary frame is the 16-byte packet emitted by the acquisition firmware:
// sync bytes 0xC7 0x7C, a counter, six big-endian 16-bit values and the end
// byte 0x01. ScanFrames splits a raw byte stream into such frames.
//
// # Widths
//
// In a fixed mode every value must lie in [0, 2^bits-1]; anything else is
// reported as errors.ErrOutOfRange and the whole payload is dropped. Values are
// never clamped or wrapped. In auto mode the width comes from the AutoRule:
//
//	@12:2048,100    twelve bits, from the marker
//	2048,100        fallback width, or twelve bits with InferFromRange
//
// Failures are *DecodeError values; KindOf maps them to metric labels.
package decoder
