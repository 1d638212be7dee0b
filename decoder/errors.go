package decoder

import (
	stderrors "errors"
	"fmt"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/sample"
)

// Kind distinguishes the two recoverable decode failures.
type Kind uint8

const (
	KindMalformed Kind = iota + 1
	KindOutOfRange
)

// String returns the label used for logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindOutOfRange:
		return "out_of_range"
	default:
		return "unknown"
	}
}

// DecodeError describes why a payload produced no samples.
// It matches errors.ErrMalformedPayload or errors.ErrOutOfRange with errors.Is.
type DecodeError struct {
	Kind   Kind
	Reason string
	Token  string // offending token, empty when the whole payload is at fault
	Index  int    // token position, -1 when not tied to a token
	Value  int64
	Width  sample.BitMode
}

func (e *DecodeError) Error() string {
	switch {
	case e.Kind == KindOutOfRange && e.Token != "":
		return fmt.Sprintf("decoder: value %s at index %d outside %s range [0, %d]",
			e.Token, e.Index, e.Width, e.Width.Max())
	case e.Kind == KindOutOfRange:
		return fmt.Sprintf("decoder: value %d at index %d outside %s range [0, %d]",
			e.Value, e.Index, e.Width, e.Width.Max())
	case e.Token != "":
		return fmt.Sprintf("decoder: %s: token %q at index %d", e.Reason, e.Token, e.Index)
	default:
		return "decoder: " + e.Reason
	}
}

// Unwrap returns the package sentinel for the error kind.
func (e *DecodeError) Unwrap() error {
	if e.Kind == KindOutOfRange {
		return errors.ErrOutOfRange
	}
	return errors.ErrMalformedPayload
}

func malformed(reason string) *DecodeError {
	return &DecodeError{Kind: KindMalformed, Reason: reason, Index: -1}
}

func malformedToken(reason, token string, index int) *DecodeError {
	return &DecodeError{Kind: KindMalformed, Reason: reason, Token: token, Index: index}
}

func outOfRange(token string, index int, value int64, width sample.BitMode) *DecodeError {
	return &DecodeError{
		Kind:   KindOutOfRange,
		Reason: "value out of range",
		Token:  token,
		Index:  index,
		Value:  value,
		Width:  width,
	}
}

// KindOf returns the metric label for err: "malformed", "out_of_range" or "other".
func KindOf(err error) string {
	var de *DecodeError
	if stderrors.As(err, &de) {
		return de.Kind.String()
	}
	switch {
	case stderrors.Is(err, errors.ErrOutOfRange):
		return KindOutOfRange.String()
	case stderrors.Is(err, errors.ErrMalformedPayload):
		return KindMalformed.String()
	}
	return "other"
}
