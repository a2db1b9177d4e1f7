package quant

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedType = errors.New("unsupported tensor type")
	ErrMalformedBlock  = errors.New("malformed quantized block")
)

// UnsupportedTypeError reports a type tag with no registered decoder.
type UnsupportedTypeError struct {
	Type Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnsupportedType, e.Type)
}

func (e *UnsupportedTypeError) Unwrap() error {
	return ErrUnsupportedType
}

// MalformedBlockError reports raw data whose length does not match the
// type's block layout or the declared element count.
type MalformedBlockError struct {
	Type     Type
	Len      int
	TypeSize int
	Elements int
}

func (e *MalformedBlockError) Error() string {
	return fmt.Sprintf("%v: %s: %d bytes is not a whole number of %d-byte blocks for %d elements",
		ErrMalformedBlock, e.Type, e.Len, e.TypeSize, e.Elements)
}

func (e *MalformedBlockError) Unwrap() error {
	return ErrMalformedBlock
}
