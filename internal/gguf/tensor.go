package gguf

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
	"strings"

	"github.com/samcharles93/ggload/pkg/quant"
)

// TensorInfo is one entry of the tensor table. Dims are in file order,
// innermost first; Offset is relative to the data section.
type TensorInfo struct {
	Name   string
	Dims   []uint64
	Type   quant.Type
	Offset uint64

	size uint64
}

// Shape returns the logical shape, outermost dimension first. A tensor with
// no dims is a scalar and has an empty shape.
func (t TensorInfo) Shape() []int {
	shape := make([]int, len(t.Dims))
	for i, d := range t.Dims {
		shape[len(t.Dims)-1-i] = int(d)
	}
	return shape
}

// Elements returns the product of the dims. Descriptors accepted by Open
// never overflow.
func (t TensorInfo) Elements() uint64 {
	n := uint64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// elementCount is Elements with overflow checking. The count must also fit
// an int so decoded tensors can be indexed.
func (t TensorInfo) elementCount() (uint64, error) {
	n := uint64(1)
	for _, d := range t.Dims {
		hi, lo := bits.Mul64(n, d)
		if hi != 0 || lo > math.MaxInt {
			return 0, fmt.Errorf("%w: tensor %s dims %v overflow", ErrCorrupt, t.Name, t.Dims)
		}
		n = lo
	}
	return n, nil
}

// ByteSize returns the size of the tensor's data for its type.
func (t TensorInfo) ByteSize(reg *quant.Registry) (uint64, error) {
	spec, err := reg.Lookup(t.Type)
	if err != nil {
		return 0, err
	}
	n, err := t.elementCount()
	if err != nil {
		return 0, err
	}
	bs := uint64(spec.BlockSize)
	hi, size := bits.Mul64((n+bs-1)/bs, uint64(spec.TypeSize))
	if hi != 0 {
		return 0, fmt.Errorf("%w: tensor %s size overflows", ErrCorrupt, t.Name)
	}
	return size, nil
}

// Size returns the byte size computed when the file was opened.
func (t TensorInfo) Size() uint64 {
	return t.size
}

// TensorByName looks up a descriptor by its exact name.
func (f *File) TensorByName(name string) (TensorInfo, bool) {
	i, ok := f.index[name]
	if !ok {
		return TensorInfo{}, false
	}
	return f.Tensors[i], true
}

// Names returns tensor names in file order.
func (f *File) Names() []string {
	names := make([]string, len(f.Tensors))
	for i, t := range f.Tensors {
		names[i] = t.Name
	}
	return names
}

// TensorData returns the raw bytes of a tensor. The slice aliases the
// mapping and is valid only while a reference to it is held.
func (f *File) TensorData(t TensorInfo) ([]byte, error) {
	if f.mapping == nil {
		return nil, fmt.Errorf("gguf: %s: %w", f.Path, ErrReleased)
	}
	data := f.mapping.Bytes()
	if !inBounds(uint64(len(data)), f.DataOffset, t.Offset, t.size) {
		return nil, fmt.Errorf("%w: tensor %s data out of range", ErrCorrupt, t.Name)
	}
	start := f.DataOffset + t.Offset
	end := start + t.size
	return data[start:end:end], nil
}

// TensorDataByName is TensorData for a named tensor.
func (f *File) TensorDataByName(name string) (TensorInfo, []byte, error) {
	t, ok := f.TensorByName(name)
	if !ok {
		return TensorInfo{}, nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	data, err := f.TensorData(t)
	if err != nil {
		return TensorInfo{}, nil, err
	}
	return t, data, nil
}

// SortedTensors returns a copy of the tensor table ordered by name.
func (f *File) SortedTensors() []TensorInfo {
	out := slices.Clone(f.Tensors)
	slices.SortFunc(out, func(a, b TensorInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// inBounds reports whether [base+off, base+off+size) lies within total bytes.
// It compares by subtraction so no sum can wrap.
func inBounds(total, base, off, size uint64) bool {
	if base > total {
		return false
	}
	avail := total - base
	return off <= avail && size <= avail-off
}
