package quant

import (
	"encoding/binary"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

func decodeF32(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}

func decodeF16(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = fp16(src[i*2:])
	}
}

func decodeBF16(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = bfloat16.ToFloat32(bfloat16.BF16(binary.LittleEndian.Uint16(src[i*2:])))
	}
}

func decodeF64(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:])))
	}
}

// fp16 reads a little-endian half float from the first two bytes of b.
func fp16(b []byte) float32 {
	return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
}

// EncodeF16 converts values to half-precision bit patterns, rounding to
// nearest even.
func EncodeF16(values []float32) []uint16 {
	out := make([]uint16, len(values))
	for i, v := range values {
		out[i] = float16.Fromfloat32(v).Bits()
	}
	return out
}

// RoundF16 returns a copy of values with every element rounded through
// half precision.
func RoundF16(values []float32) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float16.Fromfloat32(v).Float32()
	}
	return out
}
