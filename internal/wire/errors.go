package wire

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("wire: malformed frame")
	ErrFrameArity     = errors.New("wire: frame must hold exactly two values")
	ErrUnknownCommand = errors.New("wire: unknown command code")
	ErrMissingField   = errors.New("wire: missing field")
	ErrInvalidField   = errors.New("wire: invalid field")
)

// PayloadError reports a well-formed frame whose payload does not match the
// shape its command code requires.
type PayloadError struct {
	Code  Code
	Field string
	Err   error
}

func (e *PayloadError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("wire: %s payload: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("wire: %s payload field %s: %v", e.Code, e.Field, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err means the frame itself was unusable:
// undecodable bytes, wrong value count or an unknown command code.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrFrameArity) ||
		errors.Is(err, ErrUnknownCommand)
}
