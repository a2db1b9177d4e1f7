// Package tensor holds the tensor values handed to a host framework: dense
// Plain tensors and Lazy tensors that keep their quantized bytes until the
// values are first needed.
package tensor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/ggload/pkg/quant"
)

var (
	ErrClosed        = errors.New("tensor: closed")
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
)

// Tensor is implemented by *Plain and *Lazy.
type Tensor interface {
	Shape() []int
	Type() quant.Type
	Materialize() ([]float32, error)
}

// Plain is a dense tensor whose values are already decoded. Type is F32, or
// F16 when the values were rounded through half precision.
type Plain struct {
	data  []float32
	shape []int
	typ   quant.Type
}

// NewPlain wraps values as an F32 tensor. The slice is not copied.
func NewPlain(values []float32, shape []int) (*Plain, error) {
	if err := checkShape(shape, len(values)); err != nil {
		return nil, err
	}
	return &Plain{data: values, shape: slices.Clone(shape), typ: quant.TypeF32}, nil
}

// NewFloat16 rounds values to half precision and tags the result F16.
func NewFloat16(values []float32, shape []int) (*Plain, error) {
	if err := checkShape(shape, len(values)); err != nil {
		return nil, err
	}
	return &Plain{data: quant.RoundF16(values), shape: slices.Clone(shape), typ: quant.TypeF16}, nil
}

func (p *Plain) Shape() []int     { return slices.Clone(p.shape) }
func (p *Plain) Type() quant.Type { return p.typ }

// Materialize returns the backing values without copying.
func (p *Plain) Materialize() ([]float32, error) {
	return p.data, nil
}

// Len returns the number of elements.
func (p *Plain) Len() int {
	return len(p.data)
}

// Float16 returns the values as half-precision bit patterns.
func (p *Plain) Float16() []uint16 {
	return quant.EncodeF16(p.data)
}

// Elements returns the product of shape. An empty shape has one element.
func Elements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkShape(shape []int, n int) error {
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
	}
	if len(shape) > 0 && Elements(shape) != n {
		return fmt.Errorf("%w: shape %v holds %d elements, have %d", ErrShapeMismatch, shape, Elements(shape), n)
	}
	return nil
}

// IsQuantized reports whether t is a Lazy tensor stored in a block format.
func IsQuantized(t Tensor) bool {
	l, ok := t.(*Lazy)
	if !ok {
		return false
	}
	spec, err := l.registry().Lookup(l.typ)
	return err == nil && spec.Quantized()
}
