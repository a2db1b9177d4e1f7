package safetensors

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/goccy/go-json"
)

func f32Data(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func u16Data(values ...uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func writeEntries(t *testing.T, entries ...Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.safetensors")
	if err := WriteFile(path, entries, map[string]string{"format": "pt"}); err != nil {
		t.Fatalf("write safetensors: %v", err)
	}
	return path
}

// writeRawHeader writes a file whose header is the JSON encoding of header,
// followed by dataLen zero bytes.
func writeRawHeader(t *testing.T, header any, dataLen int) string {
	t.Helper()
	hb, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(hb)))
	buf = append(buf, hb...)
	buf = append(buf, make([]byte, dataLen)...)
	path := filepath.Join(t.TempDir(), "raw.safetensors")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestOpenValidFile(t *testing.T) {
	t.Parallel()
	path := writeEntries(t,
		Entry{Name: "weight", DType: "F32", Shape: []int{2, 3}, Data: f32Data(1, 2, 3, 4, 5, 6)},
		Entry{Name: "bias", DType: "F16", Shape: []int{2}, Data: u16Data(0x3C00, 0x4000)},
	)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(f.Tensors) != 2 {
		t.Fatalf("expected 2 tensors, got %d", len(f.Tensors))
	}
	if f.Metadata["format"] != "pt" {
		t.Fatalf("expected metadata format=pt, got %v", f.Metadata)
	}
	if got := f.Names(); !reflect.DeepEqual(got, []string{"bias", "weight"}) {
		t.Fatalf("Names() = %v", got)
	}

	info, ok := f.Tensor("weight")
	if !ok {
		t.Fatal("tensor 'weight' not found")
	}
	if info.DType != "F32" || !reflect.DeepEqual(info.Shape, []int{2, 3}) || info.Elements() != 6 {
		t.Fatalf("unexpected info: %+v", info)
	}

	vals, _, err := f.ReadTensorF32("weight")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	if !reflect.DeepEqual(vals, []float32{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("weight = %v", vals)
	}
	bias, _, err := f.ReadTensorF32("bias")
	if err != nil {
		t.Fatalf("ReadTensorF32(bias): %v", err)
	}
	if !reflect.DeepEqual(bias, []float32{1, 2}) {
		t.Fatalf("bias = %v", bias)
	}
}

func TestOpenNonexistentFile(t *testing.T) {
	t.Parallel()
	if _, err := Open("/nonexistent/file.safetensors"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestOpenTruncatedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "truncated.safetensors")
	if err := os.WriteFile(path, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err := Open(path)
	if !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestOpenHeaderLongerThanFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "long.safetensors")
	buf := binary.LittleEndian.AppendUint64(nil, 1<<40)
	if err := os.WriteFile(path, append(buf, '{', '}'), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestOpenInvalidJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "invalid.safetensors")
	buf := binary.LittleEndian.AppendUint64(nil, 12)
	if err := os.WriteFile(path, append(buf, "not valid js"...), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestInvalidDataOffsets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		offsets []int64
		dataLen int
	}{
		{"single", []int64{0}, 4},
		{"reversed", []int64{8, 4}, 8},
		{"beyond data", []int64{0, 16}, 8},
		{"negative", []int64{-4, 4}, 8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeRawHeader(t, map[string]any{
				"bad": map[string]any{"dtype": "F32", "shape": []int{1}, "data_offsets": tc.offsets},
			}, tc.dataLen)
			if _, err := Open(path); !errors.Is(err, ErrInvalidHeader) {
				t.Fatalf("expected ErrInvalidHeader, got %v", err)
			}
		})
	}
}

func TestTensorNotFound(t *testing.T) {
	t.Parallel()
	path := writeEntries(t, Entry{Name: "a", DType: "F32", Shape: []int{1}, Data: f32Data(1)})
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := f.Tensor("nonexistent"); ok {
		t.Fatal("expected tensor not found")
	}
	if _, _, err := f.ReadTensor("nonexistent"); !errors.Is(err, ErrTensorNotFound) {
		t.Fatalf("expected ErrTensorNotFound, got %v", err)
	}
}

func TestReadTensorBF16(t *testing.T) {
	t.Parallel()
	path := writeEntries(t, Entry{Name: "test", DType: "BF16", Shape: []int{2}, Data: u16Data(0x3F80, 0x4000)})
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	result, _, err := f.ReadTensorF32("test")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	if !reflect.DeepEqual(result, []float32{1, 2}) {
		t.Fatalf("got %v, want [1 2]", result)
	}
}

func TestReadTensorIntegers(t *testing.T) {
	t.Parallel()
	i64 := make([]byte, 0, 24)
	for _, v := range []int64{0, 76, -3} {
		i64 = binary.LittleEndian.AppendUint64(i64, uint64(v))
	}
	path := writeEntries(t,
		Entry{Name: "position_ids", DType: "I64", Shape: []int{1, 3}, Data: i64},
		Entry{Name: "mask", DType: "U8", Shape: []int{2}, Data: []byte{1, 255}},
		Entry{Name: "signed", DType: "I8", Shape: []int{2}, Data: []byte{0x80, 0x7f}},
		Entry{Name: "halfword", DType: "I16", Shape: []int{1}, Data: u16Data(0xfffe)},
		Entry{Name: "bad", DType: "I32", Shape: []int{2}, Data: make([]byte, 4)},
	)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for name, want := range map[string][]float32{
		"position_ids": {0, 76, -3},
		"mask":         {1, 255},
		"signed":       {-128, 127},
		"halfword":     {-2},
	} {
		got, _, err := f.ReadTensorF32(name)
		if err != nil {
			t.Fatalf("ReadTensorF32(%s): %v", name, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: got %v, want %v", name, got, want)
		}
	}
	if _, _, err := f.ReadTensorF32("bad"); err == nil {
		t.Fatal("expected error for short I32 data")
	}
	if !IsInteger("I64") || IsInteger("F32") {
		t.Fatal("IsInteger misclassifies dtypes")
	}
}

func TestReadTensorUnsupportedDType(t *testing.T) {
	t.Parallel()
	path := writeEntries(t, Entry{Name: "test", DType: "BOOL", Shape: []int{2}, Data: make([]byte, 2)})
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := f.ReadTensorF32("test"); err == nil {
		t.Fatal("expected error for unsupported dtype")
	}
}

func TestReadTensorSizeMismatch(t *testing.T) {
	t.Parallel()
	path := writeEntries(t, Entry{Name: "test", DType: "F32", Shape: []int{4}, Data: f32Data(1, 2)})
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := f.ReadTensorF32("test"); err == nil {
		t.Fatal("expected error for size mismatch")
	}
}
