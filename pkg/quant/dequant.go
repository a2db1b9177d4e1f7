package quant

// Dequantize decodes n elements of type t using the default registry.
func Dequantize(raw []byte, t Type, n int) ([]float32, error) {
	return Default().Dequantize(raw, t, n)
}

// Dequantize decodes n elements of type t from raw. raw must hold exactly
// the blocks needed for n elements; anything else is a *MalformedBlockError.
func (r *Registry) Dequantize(raw []byte, t Type, n int) ([]float32, error) {
	spec, err := r.Lookup(t)
	if err != nil {
		return nil, err
	}
	if err := spec.check(raw, n); err != nil {
		return nil, err
	}
	out := make([]float32, spec.Blocks(n)*spec.BlockSize)
	spec.Decode(out, raw)
	return out[:n:n], nil
}

// DequantizeInto decodes every block in raw into dst and returns the number
// of values written. dst must have room for all of them.
func (r *Registry) DequantizeInto(dst []float32, raw []byte, t Type) (int, error) {
	spec, err := r.Lookup(t)
	if err != nil {
		return 0, err
	}
	if len(raw)%spec.TypeSize != 0 {
		return 0, spec.malformed(raw, len(dst))
	}
	n := len(raw) / spec.TypeSize * spec.BlockSize
	if len(dst) < n {
		return 0, spec.malformed(raw, len(dst))
	}
	spec.Decode(dst[:n], raw)
	return n, nil
}

// Elements returns how many values raw decodes to for type t.
func (r *Registry) Elements(raw []byte, t Type) (int, error) {
	spec, err := r.Lookup(t)
	if err != nil {
		return 0, err
	}
	if len(raw)%spec.TypeSize != 0 {
		return 0, spec.malformed(raw, -1)
	}
	return len(raw) / spec.TypeSize * spec.BlockSize, nil
}

func (s Spec) check(raw []byte, n int) error {
	if n < 0 || len(raw)%s.TypeSize != 0 || len(raw) != s.RowSize(n) {
		return s.malformed(raw, n)
	}
	return nil
}

func (s Spec) malformed(raw []byte, n int) error {
	return &MalformedBlockError{Type: s.Type, Len: len(raw), TypeSize: s.TypeSize, Elements: n}
}
