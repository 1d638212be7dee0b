// Package mode holds the operator-selected bit mode and display flags.
//
// Every change publishes a new immutable State. The decoder reads the bit
// mode from a snapshot taken per payload, and the render scheduler reads the
// display flags from a snapshot taken per tick. Changing the bit mode never
// touches samples already in the buffer.
package mode
