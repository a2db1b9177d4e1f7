package gguf

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidMagic       = errors.New("invalid GGUF magic")
	ErrUnsupportedVersion = errors.New("unsupported GGUF version")
	ErrCorrupt            = errors.New("corrupt GGUF file")
	ErrTensorNotFound     = errors.New("gguf: tensor not found")
	ErrReleased           = errors.New("gguf: mapping already released")

	errShort = fmt.Errorf("%w: %w", ErrCorrupt, io.ErrUnexpectedEOF)
)

// ParseError reports a structural problem in a GGUF container. Offset is the
// byte position the reader had reached.
type ParseError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("gguf: parse %s at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
