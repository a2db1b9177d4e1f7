package quant

import "encoding/binary"

// Legacy 32-element block formats. Every block starts with an f16 scale d.
const (
	qk = 32

	q4_0Size = 2 + qk/2         // d, qs
	q4_1Size = 2 + 2 + qk/2     // d, m, qs
	q5_0Size = 2 + 4 + qk/2     // d, qh, qs
	q5_1Size = 2 + 2 + 4 + qk/2 // d, m, qh, qs
	q8_0Size = 2 + qk           // d, qs
	q8_1Size = 2 + 2 + qk       // d, s, qs
)

// y = d * (q - 8). Low nibbles fill the first half, high nibbles the second.
func dequantQ4_0(dst []float32, b []byte) {
	d := fp16(b[0:])
	qs := b[2:q4_0Size]
	for j := range qk / 2 {
		dst[j] = d * float32(int(qs[j]&0x0F)-8)
		dst[j+qk/2] = d * float32(int(qs[j]>>4)-8)
	}
}

// y = d*q + m
func dequantQ4_1(dst []float32, b []byte) {
	d := fp16(b[0:])
	m := fp16(b[2:])
	qs := b[4:q4_1Size]
	for j := range qk / 2 {
		dst[j] = d*float32(qs[j]&0x0F) + m
		dst[j+qk/2] = d*float32(qs[j]>>4) + m
	}
}

// The fifth bit of element j lives in bit j of qh.
func dequantQ5_0(dst []float32, b []byte) {
	d := fp16(b[0:])
	qh := binary.LittleEndian.Uint32(b[2:])
	qs := b[6:q5_0Size]
	for j := range qk / 2 {
		xh0 := ((qh >> uint(j)) << 4) & 0x10
		xh1 := (qh >> uint(j+12)) & 0x10
		x0 := int32(uint32(qs[j]&0x0F)|xh0) - 16
		x1 := int32(uint32(qs[j]>>4)|xh1) - 16
		dst[j] = d * float32(x0)
		dst[j+qk/2] = d * float32(x1)
	}
}

func dequantQ5_1(dst []float32, b []byte) {
	d := fp16(b[0:])
	m := fp16(b[2:])
	qh := binary.LittleEndian.Uint32(b[4:])
	qs := b[8:q5_1Size]
	for j := range qk / 2 {
		xh0 := ((qh >> uint(j)) << 4) & 0x10
		xh1 := (qh >> uint(j+12)) & 0x10
		dst[j] = d*float32(uint32(qs[j]&0x0F)|xh0) + m
		dst[j+qk/2] = d*float32(uint32(qs[j]>>4)|xh1) + m
	}
}

func dequantQ8_0(dst []float32, b []byte) {
	d := fp16(b[0:])
	qs := b[2:q8_0Size]
	for j := range qk {
		dst[j] = d * float32(int8(qs[j]))
	}
}

// Q8_1 carries a precomputed d*sum(q) in its second field; decoding only
// needs d.
func dequantQ8_1(dst []float32, b []byte) {
	d := fp16(b[0:])
	qs := b[4:q8_1Size]
	for j := range qk {
		dst[j] = d * float32(int8(qs[j]))
	}
}
