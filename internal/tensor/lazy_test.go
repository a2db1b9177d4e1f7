package tensor

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/ggload/pkg/quant"
)

func f32Bytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// q8Block builds one Q8_0 block with scale d and quants q.
func q8Block(d float32, q []int8) []byte {
	out := binary.LittleEndian.AppendUint16(nil, quant.EncodeF16([]float32{d})[0])
	for i := range 32 {
		var v int8
		if i < len(q) {
			v = q[i]
		}
		out = append(out, byte(v))
	}
	return out
}

type countingOwner struct {
	retained atomic.Int64
	released atomic.Int64
}

func (o *countingOwner) Retain() error  { o.retained.Add(1); return nil }
func (o *countingOwner) Release() error { o.released.Add(1); return nil }

func countingDecoder(calls *atomic.Int64) DecodeFunc {
	return func(raw []byte, t quant.Type, n int) ([]float32, error) {
		calls.Add(1)
		return quant.Dequantize(raw, t, n)
	}
}

func TestLazyShapeDoesNotDecode(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	l := NewLazy(q8Block(1, nil), quant.TypeQ8_0, []int{4, 8}, WithDecoder(countingDecoder(&calls)))

	assert.Equal(t, []int{4, 8}, l.Shape())
	assert.True(t, l.HasShape())
	assert.Equal(t, quant.TypeQ8_0, l.Type())
	assert.Zero(t, calls.Load())
	assert.False(t, l.Materialized())

	shape := l.Shape()
	shape[0] = 99
	assert.Equal(t, []int{4, 8}, l.Shape())
}

func TestLazyMaterializeOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	q := make([]int8, 32)
	for i := range q {
		q[i] = int8(i - 16)
	}
	l := NewLazy(q8Block(0.5, q), quant.TypeQ8_0, []int{32}, WithDecoder(countingDecoder(&calls)))

	var wg sync.WaitGroup
	results := make([][]float32, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Materialize()
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, float32(-8), results[0][0])
	assert.Equal(t, float32(7.5), results[0][31])
	assert.True(t, l.Materialized())
}

func TestLazyNoShape(t *testing.T) {
	t.Parallel()
	raw := append(q8Block(1, []int8{3}), q8Block(2, []int8{5})...)
	l := NewLazy(raw, quant.TypeQ8_0, nil)
	assert.False(t, l.HasShape())
	assert.Empty(t, l.Shape())

	v, err := l.Materialize()
	require.NoError(t, err)
	require.Len(t, v, 64)
	assert.Equal(t, float32(3), v[0])
	assert.Equal(t, float32(10), v[32])
}

func TestLazyRejectsShortData(t *testing.T) {
	t.Parallel()
	l := NewLazy(q8Block(1, nil), quant.TypeQ8_0, []int{64})
	_, err := l.Materialize()
	require.ErrorIs(t, err, quant.ErrMalformedBlock)

	// The failure is cached like a success.
	_, err2 := l.Materialize()
	assert.Equal(t, err, err2)
}

func TestLazyF32View(t *testing.T) {
	t.Parallel()
	raw := f32Bytes(1, 2, 3, 4)
	l := NewLazy(raw, quant.TypeF32, []int{2, 2})
	v, err := l.Materialize()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, v)

	if littleEndian {
		binary.LittleEndian.PutUint32(raw, math.Float32bits(9))
		assert.Equal(t, float32(9), v[0], "expected a view over raw bytes")
	}

	// Owned bytes are copied.
	owned := NewLazy(f32Bytes(1, 2), quant.TypeF32, []int{2}, WithOwner(&countingOwner{}))
	w, err := owned.Materialize()
	require.NoError(t, err)
	owned.Raw()[0] = 0xFF
	assert.Equal(t, float32(1), w[0])
}

func TestLazyResolveReplaysInOrder(t *testing.T) {
	t.Parallel()
	l := NewLazy(f32Bytes(1, 2, 3), quant.TypeF32, []int{3})

	var order []string
	l.QueuePatch("a", func(key string, w []float32) ([]float32, error) {
		order = append(order, key)
		for i := range w {
			w[i] += 1
		}
		return w, nil
	})
	l.QueuePatch("b", func(key string, w []float32) ([]float32, error) {
		order = append(order, key)
		for i := range w {
			w[i] *= 10
		}
		return w, nil
	})
	assert.Empty(t, order, "queueing must not compute")
	require.Len(t, l.Patches(), 2)

	got, err := l.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []float32{20, 30, 40}, got)
	assert.Equal(t, []string{"a", "b"}, order)

	base, err := l.Materialize()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, base, "cache must stay unpatched")

	boom := errors.New("boom")
	l.QueuePatch("c", func(string, []float32) ([]float32, error) { return nil, boom })
	_, err = l.Resolve()
	assert.ErrorIs(t, err, boom)
}

func TestLazyCloneIndependence(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	owner := &countingOwner{}
	l := NewLazy(q8Block(1, []int8{1, 2}), quant.TypeQ8_0, []int{32},
		WithDecoder(countingDecoder(&calls)), WithOwner(owner))
	l.QueuePatch("x", func(_ string, w []float32) ([]float32, error) { return w, nil })

	c := l.CloneShallow()
	assert.Empty(t, c.Patches())
	assert.Len(t, l.Patches(), 1)
	assert.Equal(t, int64(1), owner.retained.Load())

	c.QueuePatch("y", func(_ string, w []float32) ([]float32, error) { return w, nil })
	c.QueuePatch("z", func(_ string, w []float32) ([]float32, error) { return w, nil })
	assert.Len(t, l.Patches(), 1)
	assert.Len(t, c.Patches(), 2)

	// Neither was materialized, so each decodes on its own.
	_, err := l.Materialize()
	require.NoError(t, err)
	_, err = c.Materialize()
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())

	// Cloning a materialized tensor shares the cache.
	d := l.CloneShallow()
	assert.True(t, d.Materialized())
	_, err = d.Materialize()
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	require.NoError(t, c.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, int64(3), owner.released.Load())
}

func TestLazyClosed(t *testing.T) {
	t.Parallel()
	owner := &countingOwner{}
	l := NewLazy(q8Block(1, nil), quant.TypeQ8_0, []int{32}, WithOwner(owner))
	require.NoError(t, l.Close())

	_, err := l.Materialize()
	assert.ErrorIs(t, err, ErrClosed)

	c := l.CloneShallow()
	_, err = c.Materialize()
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, c.Close())
	assert.Zero(t, owner.retained.Load())
	assert.Equal(t, int64(1), owner.released.Load())

	// Materialized values survive Close.
	m := NewLazy(q8Block(1, []int8{4}), quant.TypeQ8_0, []int{32}, WithOwner(owner))
	v, err := m.Materialize()
	require.NoError(t, err)
	require.NoError(t, m.Close())
	v2, err := m.Materialize()
	require.NoError(t, err)
	assert.Equal(t, v, v2)
}

func TestIsQuantized(t *testing.T) {
	t.Parallel()
	assert.True(t, IsQuantized(NewLazy(q8Block(1, nil), quant.TypeQ8_0, []int{32})))
	assert.False(t, IsQuantized(NewLazy(f32Bytes(1), quant.TypeF32, []int{1})))
	p, err := NewPlain([]float32{1}, []int{1})
	require.NoError(t, err)
	assert.False(t, IsQuantized(p))
}
