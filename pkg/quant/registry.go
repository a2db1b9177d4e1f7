// Package quant decodes GGML tensor payloads into float32.
//
// Every supported type is described by a Spec: how many elements a block
// holds, how many bytes it occupies, and the routine that expands a run of
// blocks. Specs are collected in an immutable Registry; Default returns the
// process-wide one.
package quant

import (
	"slices"
	"sync"
)

// DecodeFunc expands whole blocks from src into dst.
// len(src) is a multiple of the type size and len(dst) is the matching
// number of elements.
type DecodeFunc func(dst []float32, src []byte)

// Spec describes the storage layout of one tensor type.
type Spec struct {
	Type      Type
	BlockSize int // elements per block
	TypeSize  int // bytes per block
	Decode    DecodeFunc
	quantized bool
}

// Quantized reports whether the type is block-compressed rather than a
// plain float encoding.
func (s Spec) Quantized() bool {
	return s.quantized
}

// Blocks returns the number of blocks needed to hold n elements.
func (s Spec) Blocks(n int) int {
	return (n + s.BlockSize - 1) / s.BlockSize
}

// RowSize returns the byte size of n elements.
func (s Spec) RowSize(n int) int {
	return s.Blocks(n) * s.TypeSize
}

// Registry maps type tags to their specs. It is never mutated after
// construction and is safe for concurrent use.
type Registry struct {
	specs map[Type]Spec
}

// NewRegistry builds the table of all supported types.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[Type]Spec)}

	r.add(Spec{Type: TypeF32, BlockSize: 1, TypeSize: 4, Decode: decodeF32})
	r.add(Spec{Type: TypeF16, BlockSize: 1, TypeSize: 2, Decode: decodeF16})
	r.add(Spec{Type: TypeBF16, BlockSize: 1, TypeSize: 2, Decode: decodeBF16})
	r.add(Spec{Type: TypeF64, BlockSize: 1, TypeSize: 8, Decode: decodeF64})

	r.addBlocks(TypeQ4_0, qk, q4_0Size, dequantQ4_0)
	r.addBlocks(TypeQ4_1, qk, q4_1Size, dequantQ4_1)
	r.addBlocks(TypeQ5_0, qk, q5_0Size, dequantQ5_0)
	r.addBlocks(TypeQ5_1, qk, q5_1Size, dequantQ5_1)
	r.addBlocks(TypeQ8_0, qk, q8_0Size, dequantQ8_0)
	r.addBlocks(TypeQ8_1, qk, q8_1Size, dequantQ8_1)

	r.addBlocks(TypeQ2_K, QK_K, q2kSize, dequantQ2K)
	r.addBlocks(TypeQ3_K, QK_K, q3kSize, dequantQ3K)
	r.addBlocks(TypeQ4_K, QK_K, q4kSize, dequantQ4K)
	r.addBlocks(TypeQ5_K, QK_K, q5kSize, dequantQ5K)
	r.addBlocks(TypeQ6_K, QK_K, q6kSize, dequantQ6K)
	r.addBlocks(TypeQ8_K, QK_K, q8kSize, dequantQ8K)

	return r
}

func (r *Registry) add(s Spec) {
	r.specs[s.Type] = s
}

func (r *Registry) addBlocks(t Type, blockSize, typeSize int, fn func(dst []float32, block []byte)) {
	r.add(Spec{
		Type:      t,
		BlockSize: blockSize,
		TypeSize:  typeSize,
		Decode:    eachBlock(blockSize, typeSize, fn),
		quantized: true,
	})
}

func eachBlock(blockSize, typeSize int, fn func(dst []float32, block []byte)) DecodeFunc {
	return func(dst []float32, src []byte) {
		for len(src) >= typeSize {
			fn(dst[:blockSize], src[:typeSize])
			dst = dst[blockSize:]
			src = src[typeSize:]
		}
	}
}

// Lookup returns the spec for t, or an *UnsupportedTypeError.
func (r *Registry) Lookup(t Type) (Spec, error) {
	s, ok := r.specs[t]
	if !ok {
		return Spec{}, &UnsupportedTypeError{Type: t}
	}
	return s, nil
}

// Supports reports whether t has a registered decoder.
func (r *Registry) Supports(t Type) bool {
	_, ok := r.specs[t]
	return ok
}

// Types lists the registered types in tag order.
func (r *Registry) Types() []Type {
	out := make([]Type, 0, len(r.specs))
	for t := range r.specs {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

var defaultRegistry = sync.OnceValue(NewRegistry)

// Default returns the shared registry.
func Default() *Registry {
	return defaultRegistry()
}
