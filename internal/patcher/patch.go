// Package patcher applies weight patches (full diffs and low-rank updates)
// to tensors of a loaded state dict. Quantized lazy tensors defer the work
// until they are resolved; everything else is patched immediately.
package patcher

import (
	"errors"
	"fmt"

	"github.com/samcharles93/ggload/internal/tensor"
)

var ErrPatchShape = errors.New("patcher: patch does not match weight")

// Patch adds a strength-scaled update to a weight in place.
type Patch interface {
	Apply(weight []float32, strength float32) error
}

// Diff adds Delta element-wise.
type Diff struct {
	Delta []float32
}

func (d Diff) Apply(weight []float32, strength float32) error {
	if len(d.Delta) != len(weight) {
		return fmt.Errorf("%w: diff has %d values, weight %d", ErrPatchShape, len(d.Delta), len(weight))
	}
	tensor.AddScaled(weight, d.Delta, strength)
	return nil
}

// LoRA adds Up × Down scaled by Alpha/Rank. Up is out×Rank and Down is
// Rank×in, both row-major, for an out×in weight. A zero Alpha means a scale
// of one.
type LoRA struct {
	Up    []float32
	Down  []float32
	Rank  int
	Alpha float32
}

func (l LoRA) Apply(weight []float32, strength float32) error {
	if l.Rank <= 0 || len(l.Up)%l.Rank != 0 || len(l.Down)%l.Rank != 0 {
		return fmt.Errorf("%w: lora rank %d with up %d, down %d", ErrPatchShape, l.Rank, len(l.Up), len(l.Down))
	}
	out, in := len(l.Up)/l.Rank, len(l.Down)/l.Rank
	if out*in != len(weight) {
		return fmt.Errorf("%w: lora %dx%d, weight has %d values", ErrPatchShape, out, in, len(weight))
	}
	scale := float32(1)
	if l.Alpha != 0 {
		scale = l.Alpha / float32(l.Rank)
	}
	return tensor.MatMulAdd(weight, l.Up, l.Down, out, l.Rank, in, strength*scale)
}

// Entry is a patch queued with its strength.
type Entry struct {
	Strength float32
	Patch    Patch
}

// CalculateWeight applies every entry to weight in order and returns it.
// weight is modified in place.
func CalculateWeight(entries []Entry, weight []float32, key string) ([]float32, error) {
	for i, e := range entries {
		if e.Strength == 0 {
			continue
		}
		if err := e.Patch.Apply(weight, e.Strength); err != nil {
			return nil, fmt.Errorf("patch %d for %s: %w", i, key, err)
		}
	}
	return weight, nil
}
