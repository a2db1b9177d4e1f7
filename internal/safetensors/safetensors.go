// Package safetensors reads the safetensors container: an 8-byte header
// length, a JSON table of tensors and a flat data section.
package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/goccy/go-json"

	"github.com/samcharles93/ggload/pkg/quant"
)

const maxHeaderSize = 100 << 20

var (
	ErrInvalidHeader  = errors.New("safetensors: invalid header")
	ErrTensorNotFound = errors.New("safetensors: tensor not found")
)

// dtypes maps the header dtype names that decode to float32.
var dtypes = map[string]quant.Type{
	"F32":  quant.TypeF32,
	"F16":  quant.TypeF16,
	"BF16": quant.TypeBF16,
	"F64":  quant.TypeF64,
}

// intWidths holds the byte width of integer dtypes. ReadTensorF32 widens
// them to float32.
var intWidths = map[string]int{
	"U8":  1,
	"I8":  1,
	"I16": 2,
	"I32": 4,
	"I64": 8,
}

// IsInteger reports whether dtype is an integer type ReadTensorF32 widens.
func IsInteger(dtype string) bool {
	_, ok := intWidths[dtype]
	return ok
}

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// Elements returns the product of the shape.
func (t TensorInfo) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type File struct {
	Path      string
	DataStart int64
	Metadata  map[string]string
	Tensors   map[string]TensorInfo
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidHeader, path, err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen > maxHeaderSize || int64(headerLen) > st.Size()-8 {
		return nil, fmt.Errorf("%w: %s: header length %d", ErrInvalidHeader, path, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidHeader, path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidHeader, path, err)
	}

	out := &File{
		Path:      path,
		DataStart: int64(8 + headerLen),
		Tensors:   make(map[string]TensorInfo, len(raw)),
	}
	if meta, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(meta, &out.Metadata); err != nil {
			return nil, fmt.Errorf("%w: %s: metadata: %w", ErrInvalidHeader, path, err)
		}
		delete(raw, "__metadata__")
	}

	dataLen := st.Size() - out.DataStart
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %w", ErrInvalidHeader, name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("%w: tensor %s: invalid data_offsets", ErrInvalidHeader, name)
		}
		start, end := th.DataOffsets[0], th.DataOffsets[1]
		if start < 0 || end < start || end > dataLen {
			return nil, fmt.Errorf("%w: tensor %s: data [%d, %d) outside %d-byte data section",
				ErrInvalidHeader, name, start, end, dataLen)
		}
		for _, d := range th.Shape {
			if d < 0 {
				return nil, fmt.Errorf("%w: tensor %s: negative dimension", ErrInvalidHeader, name)
			}
		}
		out.Tensors[name] = TensorInfo{DType: th.DType, Shape: th.Shape, Start: start, End: end}
	}
	return out, nil
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Names returns the tensor names in lexical order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	defer func() { _ = file.Close() }()

	buf := make([]byte, t.End-t.Start)
	if _, err := file.ReadAt(buf, f.DataStart+t.Start); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return buf, t, nil
}

// ReadTensorF32 decodes a tensor to float32. Floating-point dtypes are
// converted and integer dtypes are widened. The byte length must match the
// shape exactly.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	if w, ok := intWidths[info.DType]; ok {
		out, err := widenInts(raw, info.DType, w, info.Elements())
		if err != nil {
			return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
		}
		return out, info, nil
	}
	t, ok := dtypes[info.DType]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}
	out, err := quant.Dequantize(raw, t, info.Elements())
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return out, info, nil
}

func widenInts(raw []byte, dtype string, width, n int) ([]float32, error) {
	if len(raw) != n*width {
		return nil, fmt.Errorf("%s data is %d bytes, want %d", dtype, len(raw), n*width)
	}
	out := make([]float32, n)
	for i := range out {
		b := raw[i*width:]
		switch dtype {
		case "U8":
			out[i] = float32(b[0])
		case "I8":
			out[i] = float32(int8(b[0]))
		case "I16":
			out[i] = float32(int16(binary.LittleEndian.Uint16(b)))
		case "I32":
			out[i] = float32(int32(binary.LittleEndian.Uint32(b)))
		case "I64":
			out[i] = float32(int64(binary.LittleEndian.Uint64(b)))
		}
	}
	return out, nil
}

// Entry is one tensor for Encode.
type Entry struct {
	Name  string
	DType string
	Shape []int
	Data  []byte
}

// Encode writes entries as a safetensors file, in the order given.
func Encode(w io.Writer, entries []Entry, metadata map[string]string) error {
	header := make(map[string]any, len(entries)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var off int64
	for _, e := range entries {
		end := off + int64(len(e.Data))
		header[e.Name] = tensorHeader{DType: e.DType, Shape: e.Shape, DataOffsets: []int64{off, end}}
		off = end
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(hb))); err != nil {
		return err
	}
	if _, err := w.Write(hb); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := w.Write(e.Data); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile is Encode into a new file at path.
func WriteFile(path string, entries []Entry, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, entries, metadata); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
