package depthfile

import (
	"errors"
	"fmt"
)

// Sentinel errors for depth serialization. Callers distinguish integrity
// violations from ordinary I/O failures with errors.Is.
var (
	ErrShortDepth       = errors.New("depthfile: depth buffer shorter than declared dimensions")
	ErrLengthMismatch   = errors.New("depthfile: depth length does not match header")
	ErrBadHeader        = errors.New("depthfile: invalid header")
	ErrHeaderWritten    = errors.New("depthfile: header already written")
	ErrHeaderNotWritten = errors.New("depthfile: frame appended before header")
)

// FormatError reports a malformed depth file while reading it back. It
// records which part of the layout was being decoded.
type FormatError struct {
	Field string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("depthfile: decode %s: %v", e.Field, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
