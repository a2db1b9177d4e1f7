// Package gguf reads GGUF model containers: header, metadata table and
// tensor descriptors, with zero-copy access to each tensor's raw block data.
package gguf

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"

	"github.com/samcharles93/ggload/internal/logger"
	"github.com/samcharles93/ggload/pkg/quant"
)

const (
	magicGGUF        = "GGUF"
	defaultAlignment = 32
	maxDims          = 4
)

// ValueType tags the encoding of a metadata value.
type ValueType uint32

const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

var valueTypeNames = [...]string{
	TypeUint8:   "u8",
	TypeInt8:    "i8",
	TypeUint16:  "u16",
	TypeInt16:   "i16",
	TypeUint32:  "u32",
	TypeInt32:   "i32",
	TypeFloat32: "f32",
	TypeBool:    "bool",
	TypeString:  "string",
	TypeArray:   "array",
	TypeUint64:  "u64",
	TypeInt64:   "i64",
	TypeFloat64: "f64",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// size is the encoded width of fixed-size value types, 0 for strings and
// arrays.
func (t ValueType) size() int {
	switch t {
	case TypeUint8, TypeInt8, TypeBool:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32, TypeInt32, TypeFloat32:
		return 4
	case TypeUint64, TypeInt64, TypeFloat64:
		return 8
	default:
		return 0
	}
}

// ArrayValue is a decoded metadata array with its element type.
type ArrayValue struct {
	ElemType ValueType
	Values   []any
}

// Value is one typed metadata value.
type Value struct {
	Type  ValueType
	Value any
}

// Header holds the fixed fields that follow the magic.
type Header struct {
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// File is a parsed GGUF container. Tensor data stays in the mapping.
type File struct {
	Path       string
	Header     Header
	KV         KV
	Tensors    []TensorInfo
	Alignment  uint64
	DataOffset uint64

	mapping  *Mapping
	registry *quant.Registry
	index    map[string]int
	log      logger.Logger
}

type options struct {
	log      logger.Logger
	registry *quant.Registry
	mmap     bool
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger that receives load diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegistry sets the quantization registry used to validate tensor types.
func WithRegistry(r *quant.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithoutMmap reads the file into memory instead of mapping it.
func WithoutMmap() Option {
	return func(o *options) { o.mmap = false }
}

// Open maps a GGUF file read-only and parses its header, metadata and
// tensor table. Tensor data is not touched. The returned File must be
// closed; tensors that retained the mapping keep it alive past Close.
func Open(path string, opts ...Option) (*File, error) {
	o := options{log: logger.Discard(), registry: quant.Default(), mmap: true}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := loadFile(path, o.mmap)
	if err != nil {
		return nil, err
	}

	f, err := parse(path, m.Bytes(), o.registry)
	if err != nil {
		_ = m.Release()
		return nil, err
	}
	f.mapping = m
	f.log = o.log

	f.logTypeCounts()
	return f, nil
}

func parse(path string, data []byte, registry *quant.Registry) (*File, error) {
	r := newReader(data)
	fail := func(err error) (*File, error) {
		return nil, &ParseError{Path: path, Offset: int64(r.off), Err: err}
	}

	magic, err := r.readN(4)
	if err != nil {
		return fail(err)
	}
	if string(magic) != magicGGUF {
		return fail(fmt.Errorf("%w: %q", ErrInvalidMagic, string(magic)))
	}

	version, err := r.readU32()
	if err != nil {
		return fail(err)
	}
	if version != 2 && version != 3 {
		return fail(fmt.Errorf("%w: %d", ErrUnsupportedVersion, version))
	}
	tensorCount, err := r.readCount(8 + 4 + 4 + 8)
	if err != nil {
		return fail(err)
	}
	kvCount, err := r.readCount(8 + 4)
	if err != nil {
		return fail(err)
	}

	kv := make(KV, kvCount)
	for i := range kvCount {
		key, err := r.readString()
		if err != nil {
			return fail(fmt.Errorf("read key %d: %w", i, err))
		}
		vtypeU32, err := r.readU32()
		if err != nil {
			return fail(fmt.Errorf("read value type for %s: %w", key, err))
		}
		vtype := ValueType(vtypeU32)
		val, err := readValue(r, vtype)
		if err != nil {
			return fail(fmt.Errorf("read value for %s: %w", key, err))
		}
		kv[key] = Value{Type: vtype, Value: val}
	}

	tensors := make([]TensorInfo, 0, tensorCount)
	index := make(map[string]int, tensorCount)
	for i := range tensorCount {
		name, err := r.readString()
		if err != nil {
			return fail(fmt.Errorf("read tensor name %d: %w", i, err))
		}
		if _, dup := index[name]; dup {
			return fail(fmt.Errorf("%w: duplicate tensor %s", ErrCorrupt, name))
		}
		nDim, err := r.readU32()
		if err != nil {
			return fail(fmt.Errorf("read tensor dims %s: %w", name, err))
		}
		if nDim > maxDims {
			return fail(fmt.Errorf("%w: tensor %s has %d dims", ErrCorrupt, name, nDim))
		}
		dims := make([]uint64, nDim)
		for d := range nDim {
			v, err := r.readU64()
			if err != nil {
				return fail(fmt.Errorf("read tensor dim %s[%d]: %w", name, d, err))
			}
			if v == 0 {
				return fail(fmt.Errorf("%w: tensor %s has zero dimension", ErrCorrupt, name))
			}
			dims[d] = v
		}
		ttypeU32, err := r.readU32()
		if err != nil {
			return fail(fmt.Errorf("read tensor type %s: %w", name, err))
		}
		ttype := quant.Type(ttypeU32)
		if _, err := registry.Lookup(ttype); err != nil {
			return nil, fmt.Errorf("gguf: tensor %s: %w", name, err)
		}
		offset, err := r.readU64()
		if err != nil {
			return fail(fmt.Errorf("read tensor offset %s: %w", name, err))
		}
		index[name] = len(tensors)
		tensors = append(tensors, TensorInfo{
			Name:   name,
			Dims:   dims,
			Type:   ttype,
			Offset: offset,
		})
	}

	alignment := uint64(defaultAlignment)
	if u, ok := kv.Uint64("general.alignment"); ok && u > 0 {
		if bits.OnesCount64(u) != 1 {
			return fail(fmt.Errorf("%w: alignment %d is not a power of two", ErrCorrupt, u))
		}
		alignment = u
	}
	dataOffset := align(uint64(r.off), alignment)

	for i := range tensors {
		t := &tensors[i]
		if t.Offset%alignment != 0 {
			return fail(fmt.Errorf("%w: tensor %s offset %d not aligned to %d", ErrCorrupt, t.Name, t.Offset, alignment))
		}
		size, err := t.ByteSize(registry)
		if errors.Is(err, ErrCorrupt) {
			return fail(err)
		}
		if err != nil {
			return nil, fmt.Errorf("gguf: tensor %s: %w", t.Name, err)
		}
		if !inBounds(uint64(len(data)), dataOffset, t.Offset, size) {
			return fail(fmt.Errorf("%w: tensor %s data at offset %d size %d beyond file size %d",
				ErrCorrupt, t.Name, t.Offset, size, len(data)))
		}
		t.size = size
	}

	return &File{
		Path:       path,
		Header:     Header{Version: version, TensorCount: tensorCount, KVCount: kvCount},
		KV:         kv,
		Tensors:    tensors,
		Alignment:  alignment,
		DataOffset: dataOffset,
		registry:   registry,
		index:      index,
	}, nil
}

// Close releases the file's reference to the mapping.
func (f *File) Close() error {
	if f == nil || f.mapping == nil {
		return nil
	}
	m := f.mapping
	f.mapping = nil
	return m.Release()
}

// Mapping returns the shared view backing the file's tensor data, or nil
// after Close.
func (f *File) Mapping() *Mapping {
	return f.mapping
}

// Registry returns the quantization registry the file was validated against.
func (f *File) Registry() *quant.Registry {
	return f.registry
}

// TypeCounts returns the number of tensors stored with each type.
func (f *File) TypeCounts() map[quant.Type]int {
	counts := make(map[quant.Type]int)
	for _, t := range f.Tensors {
		counts[t.Type]++
	}
	return counts
}

func (f *File) logTypeCounts() {
	counts := f.TypeCounts()
	types := make([]quant.Type, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	slices.Sort(types)

	f.log.Info("opened gguf", "path", f.Path, "version", f.Header.Version,
		"tensors", len(f.Tensors), "mmap", f.mapping.Mapped())
	for _, t := range types {
		f.log.Info("tensor type", "type", t.String(), "count", counts[t])
	}
}

func readValue(r *reader, vtype ValueType) (any, error) {
	switch vtype {
	case TypeUint8:
		return r.readU8()
	case TypeInt8:
		return r.readI8()
	case TypeUint16:
		return r.readU16()
	case TypeInt16:
		return r.readI16()
	case TypeUint32:
		return r.readU32()
	case TypeInt32:
		return r.readI32()
	case TypeUint64:
		return r.readU64()
	case TypeInt64:
		return r.readI64()
	case TypeFloat32:
		return r.readF32()
	case TypeFloat64:
		return r.readF64()
	case TypeBool:
		v, err := r.readU8()
		if err != nil {
			return false, err
		}
		return v != 0, nil
	case TypeString:
		return r.readString()
	case TypeArray:
		elemTypeU32, err := r.readU32()
		if err != nil {
			return nil, err
		}
		elemType := ValueType(elemTypeU32)
		minSize := elemType.size()
		if elemType == TypeString || elemType == TypeArray {
			minSize = 8
		}
		count, err := r.readCount(minSize)
		if err != nil {
			return nil, err
		}
		values := make([]any, 0, count)
		for range count {
			v, err := readValue(r, elemType)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return ArrayValue{ElemType: elemType, Values: values}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value type %d", ErrCorrupt, uint32(vtype))
	}
}

func align(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return offset
	}
	rem := offset % alignment
	if rem == 0 {
		return offset
	}
	return offset + (alignment - rem)
}
