package statedict

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
	ErrUnsupportedFormat = errors.New("unsupported checkpoint format")
)

// InvalidCheckpointError reports a text encoder missing its sentinel key.
// Key is the sentinel as named in the source checkpoint.
type InvalidCheckpointError struct {
	Path string
	Key  string
}

func (e *InvalidCheckpointError) Error() string {
	return fmt.Sprintf("%v: %s: text encoder is missing tensor %q", ErrInvalidCheckpoint, e.Path, e.Key)
}

func (e *InvalidCheckpointError) Unwrap() error {
	return ErrInvalidCheckpoint
}
