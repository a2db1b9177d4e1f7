package tensor

import (
	"fmt"
	"math"
)

// AddScaled computes dst[i] += alpha * src[i].
func AddScaled(dst, src []float32, alpha float32) {
	if len(src) < len(dst) {
		panic("AddScaled: src shorter than dst")
	}
	for i := range dst {
		dst[i] += alpha * src[i]
	}
}

// MatMulAdd accumulates alpha * (a × b) into dst, where a is m×k, b is k×n
// and dst is m×n, all row-major.
func MatMulAdd(dst, a, b []float32, m, k, n int, alpha float32) error {
	if len(a) != m*k || len(b) != k*n || len(dst) != m*n {
		return fmt.Errorf("%w: matmul %dx%d by %dx%d into %d values", ErrShapeMismatch, m, k, k, n, len(dst))
	}
	for i := 0; i < m; i++ {
		row := dst[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			s := alpha * a[i*k+p]
			if s == 0 {
				continue
			}
			brow := b[p*n : (p+1)*n]
			for j := range row {
				row[j] += s * brow[j]
			}
		}
	}
	return nil
}

// Summary describes the distribution of a tensor's values.
type Summary struct {
	Count int     `json:"count"`
	Min   float32 `json:"min"`
	Max   float32 `json:"max"`
	Mean  float64 `json:"mean"`
	RMS   float64 `json:"rms"`
	NaN   int     `json:"nan"`
}

// Summarize scans values once. NaNs are counted and excluded from the
// other fields.
func Summarize(values []float32) Summary {
	s := Summary{Count: len(values), Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}
	var sum, sq float64
	for _, v := range values {
		if v != v {
			s.NaN++
			continue
		}
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		sum += float64(v)
		sq += float64(v) * float64(v)
	}
	if n := s.Count - s.NaN; n > 0 {
		s.Mean = sum / float64(n)
		s.RMS = math.Sqrt(sq / float64(n))
	} else {
		s.Min, s.Max = 0, 0
	}
	return s
}
