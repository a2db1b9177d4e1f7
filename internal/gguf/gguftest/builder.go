// Package gguftest builds small GGUF files for tests.
package gguftest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/ggload/pkg/quant"
)

// Value type tags as written to the file.
const (
	tagUint8   = 0
	tagInt8    = 1
	tagUint16  = 2
	tagInt16   = 3
	tagUint32  = 4
	tagInt32   = 5
	tagFloat32 = 6
	tagBool    = 7
	tagString  = 8
	tagArray   = 9
	tagUint64  = 10
	tagInt64   = 11
	tagFloat64 = 12
)

type kvEntry struct {
	key   string
	value any
}

type tensorEntry struct {
	name string
	typ  quant.Type
	dims []uint64 // file order
	data []byte
}

// Builder accumulates metadata and tensors. Tensors are laid out in the
// order they are added, each padded to the alignment.
type Builder struct {
	Version   uint32
	Alignment int
	// Magic overrides the four-byte magic when non-empty.
	Magic string

	kv      []kvEntry
	tensors []tensorEntry
}

func New() *Builder {
	return &Builder{Version: 3, Alignment: 32}
}

// KV adds a metadata entry. Supported values are the Go integer and float
// types, bool, string and slices of those.
func (b *Builder) KV(key string, value any) *Builder {
	b.kv = append(b.kv, kvEntry{key: key, value: value})
	return b
}

// Tensor adds a tensor with a logical (outermost-first) shape.
func (b *Builder) Tensor(name string, t quant.Type, shape []int, data []byte) *Builder {
	dims := make([]uint64, len(shape))
	for i, d := range shape {
		dims[len(shape)-1-i] = uint64(d)
	}
	b.tensors = append(b.tensors, tensorEntry{name: name, typ: t, dims: dims, data: data})
	return b
}

// F32 adds an F32 tensor holding values.
func (b *Builder) F32(name string, shape []int, values []float32) *Builder {
	return b.Tensor(name, quant.TypeF32, shape, F32Bytes(values))
}

// Bytes encodes the file.
func (b *Builder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	magic := b.Magic
	if magic == "" {
		magic = "GGUF"
	}
	buf.WriteString(magic)
	le(&buf, b.Version)
	le(&buf, uint64(len(b.tensors)))
	le(&buf, uint64(len(b.kv)))

	for _, e := range b.kv {
		writeString(&buf, e.key)
		tag, err := tagOf(e.value)
		if err != nil {
			return nil, fmt.Errorf("gguftest: key %s: %w", e.key, err)
		}
		le(&buf, tag)
		if err := writeValue(&buf, e.value); err != nil {
			return nil, fmt.Errorf("gguftest: key %s: %w", e.key, err)
		}
	}

	align := uint64(b.Alignment)
	if align == 0 {
		align = 32
	}
	var offset uint64
	offsets := make([]uint64, len(b.tensors))
	for i, t := range b.tensors {
		offsets[i] = offset
		offset = pad(offset+uint64(len(t.data)), align)
	}
	for i, t := range b.tensors {
		writeString(&buf, t.name)
		le(&buf, uint32(len(t.dims)))
		for _, d := range t.dims {
			le(&buf, d)
		}
		le(&buf, uint32(t.typ))
		le(&buf, offsets[i])
	}

	buf.Write(make([]byte, pad(uint64(buf.Len()), align)-uint64(buf.Len())))
	for i, t := range b.tensors {
		buf.Write(t.data)
		end := offsets[i] + uint64(len(t.data))
		buf.Write(make([]byte, pad(end, align)-end))
	}
	return buf.Bytes(), nil
}

// Write encodes the file into dir/name and returns its path.
func (b *Builder) Write(tb testing.TB, dir, name string) string {
	tb.Helper()
	data, err := b.Bytes()
	if err != nil {
		tb.Fatalf("build gguf: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write gguf: %v", err)
	}
	return path
}

// Tensor payload encoders.

func F32Bytes(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func F16Bytes(values []float32) []byte {
	bits := quant.EncodeF16(values)
	out := make([]byte, 2*len(bits))
	for i, v := range bits {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

// Q8_0Bytes quantizes values (padded with zeros to a multiple of 32) into
// Q8_0 blocks.
func Q8_0Bytes(values []float32) []byte {
	const qk = 32
	nb := (len(values) + qk - 1) / qk
	out := make([]byte, 0, nb*34)
	for blk := range nb {
		var x [qk]float32
		copy(x[:], values[blk*qk:min(len(values), (blk+1)*qk)])
		var amax float32
		for _, v := range x {
			amax = max(amax, float32(math.Abs(float64(v))))
		}
		d := amax / 127
		id := float32(0)
		if d != 0 {
			id = 1 / d
		}
		out = binary.LittleEndian.AppendUint16(out, quant.EncodeF16([]float32{d})[0])
		for _, v := range x {
			out = append(out, byte(int8(math.Round(float64(v*id)))))
		}
	}
	return out
}

func pad(n, align uint64) uint64 {
	if r := n % align; r != 0 {
		return n + align - r
	}
	return n
}

func le(buf *bytes.Buffer, v any) {
	_ = binary.Write(buf, binary.LittleEndian, v)
}

func writeString(buf *bytes.Buffer, s string) {
	le(buf, uint64(len(s)))
	buf.WriteString(s)
}

func tagOf(v any) (uint32, error) {
	switch v.(type) {
	case uint8:
		return tagUint8, nil
	case int8:
		return tagInt8, nil
	case uint16:
		return tagUint16, nil
	case int16:
		return tagInt16, nil
	case uint32:
		return tagUint32, nil
	case int32:
		return tagInt32, nil
	case float32:
		return tagFloat32, nil
	case bool:
		return tagBool, nil
	case string:
		return tagString, nil
	case uint64:
		return tagUint64, nil
	case int64, int:
		return tagInt64, nil
	case float64:
		return tagFloat64, nil
	case []string, []int32, []uint32, []int64, []float32, []uint8:
		return tagArray, nil
	default:
		return 0, fmt.Errorf("unsupported value %T", v)
	}
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case string:
		writeString(buf, t)
	case bool:
		var b uint8
		if t {
			b = 1
		}
		le(buf, b)
	case int:
		le(buf, int64(t))
	case []string:
		le(buf, uint32(tagString))
		le(buf, uint64(len(t)))
		for _, s := range t {
			writeString(buf, s)
		}
	case []int32:
		writeArray(buf, tagInt32, t)
	case []uint32:
		writeArray(buf, tagUint32, t)
	case []int64:
		writeArray(buf, tagInt64, t)
	case []float32:
		writeArray(buf, tagFloat32, t)
	case []uint8:
		writeArray(buf, tagUint8, t)
	default:
		if _, err := tagOf(v); err != nil {
			return err
		}
		le(buf, v)
	}
	return nil
}

func writeArray[T any](buf *bytes.Buffer, tag uint32, values []T) {
	le(buf, tag)
	le(buf, uint64(len(values)))
	for _, v := range values {
		le(buf, v)
	}
}
