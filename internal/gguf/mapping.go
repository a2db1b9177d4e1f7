package gguf

import (
	"io"
	"os"
	"sync/atomic"
)

// Mapping is a read-only view of a whole GGUF file shared by the File and
// every tensor that references its data. It starts with one reference; the
// view is unmapped when the last reference is released.
type Mapping struct {
	data   []byte
	mapped bool
	refs   atomic.Int64
}

func newMapping(data []byte, mapped bool) *Mapping {
	m := &Mapping{data: data, mapped: mapped}
	m.refs.Store(1)
	return m
}

// Bytes returns the full file contents. The slice must not be used after
// the caller's reference is released.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Mapped reports whether the view is backed by mmap rather than a heap copy.
func (m *Mapping) Mapped() bool {
	return m.mapped
}

// Refs returns the current reference count.
func (m *Mapping) Refs() int64 {
	return m.refs.Load()
}

// Retain adds a reference. It fails once the mapping has been released.
func (m *Mapping) Retain() error {
	for {
		n := m.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if m.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference and unmaps the view when it was the last one.
func (m *Mapping) Release() error {
	for {
		n := m.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if !m.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n == 1 && m.mapped {
			return munmap(m.data)
		}
		return nil
	}
}

// loadFile maps path read-only. If mmap is unavailable or disabled it falls
// back to reading the file into memory.
func loadFile(path string, useMmap bool) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := st.Size()
	if size64 < 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, &ParseError{Path: path, Err: ErrCorrupt}
	}
	size := int(size64)

	if useMmap && size > 0 {
		if data, err := mmapReadOnly(f, size); err == nil {
			return newMapping(data, true), nil
		}
	}

	data, err := readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return newMapping(data, false), nil
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}
