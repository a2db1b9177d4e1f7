package tensor

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/samcharles93/ggload/pkg/quant"
)

// Owner is a shared reference to the memory behind a tensor's raw bytes.
// *gguf.Mapping implements it.
type Owner interface {
	Retain() error
	Release() error
}

// DecodeFunc turns n elements of raw data into float32 values.
type DecodeFunc func(raw []byte, t quant.Type, n int) ([]float32, error)

// PatchFunc applies one queued patch to the weight and returns the result.
// It may modify weight in place.
type PatchFunc func(key string, weight []float32) ([]float32, error)

// Pending is a patch queued on a Lazy tensor.
type Pending struct {
	Key   string
	Apply PatchFunc
}

type LazyOption func(*Lazy)

func WithRegistry(r *quant.Registry) LazyOption {
	return func(l *Lazy) { l.reg = r }
}

// WithDecoder replaces the dequantization routine.
func WithDecoder(fn DecodeFunc) LazyOption {
	return func(l *Lazy) { l.decode = fn }
}

// WithOwner attaches a reference the tensor releases on Close, or when it
// becomes unreachable. The caller transfers one reference to the tensor.
func WithOwner(o Owner) LazyOption {
	return func(l *Lazy) { l.ref = &ownerRef{owner: o} }
}

type cacheSlot struct {
	once   sync.Once
	filled atomic.Bool
	data   []float32
	err    error
}

type ownerRef struct {
	once   sync.Once
	owner  Owner
	closed atomic.Bool
}

func (r *ownerRef) release() error {
	var err error
	r.once.Do(func() {
		r.closed.Store(true)
		err = r.owner.Release()
	})
	return err
}

// Lazy keeps a tensor in its on-disk encoding. Materialize decodes once and
// caches; patches queued with QueuePatch are replayed only by Resolve.
//
// Materialize may be called concurrently. QueuePatch, CloneShallow and Close
// must not race with each other.
type Lazy struct {
	raw     []byte
	typ     quant.Type
	shape   []int
	reg     *quant.Registry
	decode  DecodeFunc
	ref     *ownerRef
	cache   *cacheSlot
	patches []Pending
}

// NewLazy wraps raw bytes of type t. A nil shape is allowed; the element
// count is then derived from the byte length.
func NewLazy(raw []byte, t quant.Type, shape []int, opts ...LazyOption) *Lazy {
	l := &Lazy{
		raw:   raw,
		typ:   t,
		shape: slices.Clone(shape),
		cache: &cacheSlot{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.track()
	return l
}

func (l *Lazy) track() {
	if l.ref != nil {
		runtime.AddCleanup(l, func(r *ownerRef) { _ = r.release() }, l.ref)
	}
}

func (l *Lazy) registry() *quant.Registry {
	if l.reg != nil {
		return l.reg
	}
	return quant.Default()
}

// Shape returns the declared shape. It never decodes.
func (l *Lazy) Shape() []int { return slices.Clone(l.shape) }

func (l *Lazy) HasShape() bool { return len(l.shape) > 0 }

func (l *Lazy) Type() quant.Type { return l.typ }

// Raw returns the encoded bytes. They alias the owner's memory.
func (l *Lazy) Raw() []byte { return l.raw }

// Len returns the number of elements Materialize produces.
func (l *Lazy) Len() (int, error) {
	if l.HasShape() {
		return Elements(l.shape), nil
	}
	return l.registry().Elements(l.raw, l.typ)
}

// Materialized reports whether the cache slot holds decoded values.
func (l *Lazy) Materialized() bool {
	return l.cache.filled.Load()
}

// Materialize decodes the raw bytes on first use and returns the cached
// values afterwards. Callers must not modify the result; Resolve returns a
// private copy. F32 bytes without an Owner are returned as a reinterpreted
// view; F32 bytes held through an Owner, such as a file mapping, are decoded
// into a copy.
func (l *Lazy) Materialize() ([]float32, error) {
	c := l.cache
	if !c.filled.Load() && l.ref != nil && l.ref.closed.Load() {
		return nil, ErrClosed
	}
	c.once.Do(func() {
		c.data, c.err = l.decodeRaw()
		c.filled.Store(true)
	})
	return c.data, c.err
}

func (l *Lazy) decodeRaw() ([]float32, error) {
	n, err := l.Len()
	if err != nil {
		return nil, err
	}
	if l.decode != nil {
		return l.decode(l.raw, l.typ, n)
	}
	if v, ok := l.viewF32(n); ok {
		return v, nil
	}
	return l.registry().Dequantize(l.raw, l.typ, n)
}

// viewF32 reinterprets heap-owned F32 bytes in place. Bytes held through an
// Owner are copied so the result never outlives the owner's reference.
func (l *Lazy) viewF32(n int) ([]float32, bool) {
	if l.typ != quant.TypeF32 || l.ref != nil || !littleEndian || len(l.raw) != 4*n || n == 0 {
		return nil, false
	}
	p := unsafe.Pointer(unsafe.SliceData(l.raw))
	if uintptr(p)%unsafe.Alignof(float32(0)) != 0 {
		return nil, false
	}
	return unsafe.Slice((*float32)(p), n), true
}

var littleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// QueuePatch records a patch for Resolve. Nothing is computed.
func (l *Lazy) QueuePatch(key string, fn PatchFunc) {
	l.patches = append(l.patches, Pending{Key: key, Apply: fn})
}

// Patches returns a copy of the queue in insertion order.
func (l *Lazy) Patches() []Pending {
	return slices.Clone(l.patches)
}

// Resolve materializes the tensor and replays the queued patches in order
// on a copy of the cached values.
func (l *Lazy) Resolve() ([]float32, error) {
	base, err := l.Materialize()
	if err != nil {
		return nil, err
	}
	out := slices.Clone(base)
	for _, p := range l.patches {
		out, err = p.Apply(p.Key, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CloneShallow returns a tensor sharing raw bytes and owner with l and an
// empty patch queue. A clone of a materialized tensor shares its cache;
// otherwise the clone decodes independently.
func (l *Lazy) CloneShallow() *Lazy {
	c := &Lazy{
		raw:    l.raw,
		typ:    l.typ,
		shape:  slices.Clone(l.shape),
		reg:    l.reg,
		decode: l.decode,
		cache:  &cacheSlot{},
	}
	if l.cache.filled.Load() {
		c.cache = l.cache
	}
	if l.ref != nil {
		c.ref = &ownerRef{owner: l.ref.owner}
		if l.ref.closed.Load() || l.ref.owner.Retain() != nil {
			// Nothing to release; the clone starts closed.
			c.ref.once.Do(func() {})
			c.ref.closed.Store(true)
		}
	}
	c.track()
	return c
}

// Close releases the owner reference. It is safe to call more than once.
// Values already materialized stay readable.
func (l *Lazy) Close() error {
	if l.ref == nil {
		return nil
	}
	return l.ref.release()
}
