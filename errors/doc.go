// Package errors implements a three-class error classification used by every
// pipeline component: Transient (temporary, retryable), Invalid (bad input, never
// retried) and Fatal (stop processing).
//
// # Wrapping
//
// All wrapping follows one format:
//
//	"component.method: action failed: %w"
//
// Wrap keeps whatever classification the wrapped error already carries;
// WrapTransient, WrapInvalid and WrapFatal set it explicitly:
//
//	if err := port.Open(); err != nil {
//	    return errors.WrapTransient(err, "SerialInput", "Start", "open port")
//	}
//
// # Decode errors
//
// The decoder reports ErrMalformedPayload and ErrOutOfRange. Both classify as
// Invalid: the payload is dropped and the pipeline moves on to the next one.
//
//	samples, err := decoder.Decode(payload, mode)
//	if errors.Is(err, errors.ErrOutOfRange) {
//	    // counted, logged at debug level
//	}
//
// Render failures classify as Transient; the scheduler skips the tick.
//
// All helpers are safe for concurrent use. Error variables are immutable.
package errors
