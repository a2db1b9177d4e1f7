package quant

import (
	"encoding/binary"
	"math"
)

// QK_K is the super-block size shared by all k-quant formats.
const QK_K = 256

const (
	q2kSize = QK_K/16 + QK_K/4 + 2 + 2      // scales, qs, d, dmin
	q3kSize = QK_K/8 + QK_K/4 + 12 + 2      // hmask, qs, scales, d
	q4kSize = 2 + 2 + 12 + QK_K/2           // d, dmin, scales, qs
	q5kSize = 2 + 2 + 12 + QK_K/8 + QK_K/2  // d, dmin, scales, qh, qs
	q6kSize = QK_K/2 + QK_K/4 + QK_K/16 + 2 // ql, qh, scales, d
	q8kSize = 4 + QK_K + 2*(QK_K/16)        // d (f32), qs, bsums
)

// Sixteen sub-blocks of 16; each scale byte packs a 4-bit scale (low) and a
// 4-bit min (high).
func dequantQ2K(dst []float32, b []byte) {
	scales := b[0:16]
	qs := b[16:80]
	d := fp16(b[80:])
	dmin := fp16(b[82:])

	y := 0
	is := 0
	for n := 0; n < QK_K; n += 128 {
		q := qs[n/4:]
		for shift := uint(0); shift < 8; shift += 2 {
			sc := scales[is]
			is++
			dl := d * float32(sc&0x0F)
			ml := dmin * float32(sc>>4)
			for l := range 16 {
				dst[y] = dl*float32((q[l]>>shift)&3) - ml
				y++
			}

			sc = scales[is]
			is++
			dl = d * float32(sc&0x0F)
			ml = dmin * float32(sc>>4)
			for l := range 16 {
				dst[y] = dl*float32((q[l+16]>>shift)&3) - ml
				y++
			}
		}
	}
}

// Three-bit values: two low bits from qs, the high bit from hmask. A clear
// hmask bit subtracts 4. Scales are 6-bit, biased by 32.
func dequantQ3K(dst []float32, b []byte) {
	hmask := b[0:32]
	qs := b[32:96]
	dAll := fp16(b[108:])

	var scales [16]int8
	unpackQ3KScales(&scales, b[96:108])

	y := 0
	is := 0
	m := uint8(1)
	for n := 0; n < QK_K; n += 128 {
		q := qs[n/4:]
		for shift := uint(0); shift < 8; shift += 2 {
			dl := dAll * float32(scales[is]-32)
			is++
			for l := range 16 {
				v := int8((q[l] >> shift) & 3)
				if hmask[l]&m == 0 {
					v -= 4
				}
				dst[y] = dl * float32(v)
				y++
			}

			dl = dAll * float32(scales[is]-32)
			is++
			for l := range 16 {
				v := int8((q[l+16] >> shift) & 3)
				if hmask[l+16]&m == 0 {
					v -= 4
				}
				dst[y] = dl * float32(v)
				y++
			}
			m <<= 1
		}
	}
}

func unpackQ3KScales(out *[16]int8, packed []byte) {
	const (
		kmask1 = 0x03030303
		kmask2 = 0x0f0f0f0f
	)
	var aux [4]uint32
	aux[0] = binary.LittleEndian.Uint32(packed[0:])
	aux[1] = binary.LittleEndian.Uint32(packed[4:])
	tmp := binary.LittleEndian.Uint32(packed[8:])

	aux[2] = ((aux[0] >> 4) & kmask2) | (((tmp >> 4) & kmask1) << 4)
	aux[3] = ((aux[1] >> 4) & kmask2) | (((tmp >> 6) & kmask1) << 4)
	aux[0] = (aux[0] & kmask2) | ((tmp & kmask1) << 4)
	aux[1] = (aux[1] & kmask2) | (((tmp >> 2) & kmask1) << 4)

	for i, a := range aux {
		out[i*4+0] = int8(a)
		out[i*4+1] = int8(a >> 8)
		out[i*4+2] = int8(a >> 16)
		out[i*4+3] = int8(a >> 24)
	}
}

// Eight sub-blocks of 32 with 6-bit scales and mins packed into 12 bytes.
func dequantQ4K(dst []float32, b []byte) {
	d := fp16(b[0:])
	dmin := fp16(b[2:])
	scales := b[4:16]
	qs := b[16:q4kSize]

	y := 0
	is := 0
	for j := 0; j < QK_K; j += 64 {
		sc1, m1 := scaleMinK4(is, scales)
		sc2, m2 := scaleMinK4(is+1, scales)
		d1, mm1 := d*float32(sc1), dmin*float32(m1)
		d2, mm2 := d*float32(sc2), dmin*float32(m2)

		q := qs[j/2 : j/2+32]
		for l := range 32 {
			dst[y+l] = d1*float32(q[l]&0x0F) - mm1
			dst[y+32+l] = d2*float32(q[l]>>4) - mm2
		}
		y += 64
		is += 2
	}
}

// Q4_K layout plus a fifth bit per element. For the g-th group of 64, bit
// 2g of qh[l] belongs to the low-nibble half and bit 2g+1 to the high half.
func dequantQ5K(dst []float32, b []byte) {
	d := fp16(b[0:])
	dmin := fp16(b[2:])
	scales := b[4:16]
	qh := b[16:48]
	qs := b[48:q5kSize]

	y := 0
	is := 0
	u1, u2 := uint8(1), uint8(2)
	for j := 0; j < QK_K; j += 64 {
		sc1, m1 := scaleMinK4(is, scales)
		sc2, m2 := scaleMinK4(is+1, scales)
		d1, mm1 := d*float32(sc1), dmin*float32(m1)
		d2, mm2 := d*float32(sc2), dmin*float32(m2)

		ql := qs[j/2 : j/2+32]
		for l := range 32 {
			lo := ql[l] & 0x0F
			hi := ql[l] >> 4
			if qh[l]&u1 != 0 {
				lo += 16
			}
			if qh[l]&u2 != 0 {
				hi += 16
			}
			dst[y+l] = d1*float32(lo) - mm1
			dst[y+32+l] = d2*float32(hi) - mm2
		}
		y += 64
		is += 2
		u1 <<= 2
		u2 <<= 2
	}
}

// scaleMinK4 extracts the j-th 6-bit scale and min of a Q4_K/Q5_K block.
func scaleMinK4(j int, scales []byte) (uint8, uint8) {
	if j < 4 {
		return scales[j] & 63, scales[j+4] & 63
	}
	sc := (scales[j+4] & 0x0F) | ((scales[j-4] >> 6) << 4)
	m := (scales[j+4] >> 4) | ((scales[j] >> 6) << 4)
	return sc, m
}

// Six-bit values centred on 32; one signed scale per 16 elements.
func dequantQ6K(dst []float32, b []byte) {
	ql := b[0:128]
	qh := b[128:192]
	sc := b[192:208]
	d := fp16(b[208:])

	for n := 0; n < QK_K; n += 128 {
		y := dst[n : n+128]
		l4 := ql[n/2 : n/2+64]
		h := qh[n/4 : n/4+32]
		s := sc[n/16 : n/16+8]
		for l := range 32 {
			is := l / 16
			q1 := int8((l4[l]&0x0F)|((h[l]>>0)&3)<<4) - 32
			q2 := int8((l4[l+32]&0x0F)|((h[l]>>2)&3)<<4) - 32
			q3 := int8((l4[l]>>4)|((h[l]>>4)&3)<<4) - 32
			q4 := int8((l4[l+32]>>4)|((h[l]>>6)&3)<<4) - 32
			y[l] = d * float32(int8(s[is])) * float32(q1)
			y[l+32] = d * float32(int8(s[is+2])) * float32(q2)
			y[l+64] = d * float32(int8(s[is+4])) * float32(q3)
			y[l+96] = d * float32(int8(s[is+6])) * float32(q4)
		}
	}
}

// Q8_K is the k-quant intermediate format: an f32 scale, 256 int8 values and
// per-16 sums that decoding ignores.
func dequantQ8K(dst []float32, b []byte) {
	d := math.Float32frombits(binary.LittleEndian.Uint32(b[0:]))
	qs := b[4 : 4+QK_K]
	for j := range QK_K {
		dst[j] = d * float32(int8(qs[j]))
	}
}
