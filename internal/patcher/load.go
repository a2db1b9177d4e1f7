package patcher

import (
	"fmt"
	"strings"

	"github.com/samcharles93/ggload/internal/safetensors"
)

const (
	suffixUp    = ".lora_up.weight"
	suffixDown  = ".lora_down.weight"
	suffixAlpha = ".alpha"
	suffixDiff  = ".diff"
)

// LoadPatches reads patches from a safetensors file. A base name with
// "<base>.lora_up.weight" and "<base>.lora_down.weight" (and optionally a
// scalar "<base>.alpha") becomes a LoRA for "<base>.weight"; "<base>.diff"
// becomes a Diff for "<base>.weight".
func LoadPatches(path string) (map[string]Patch, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Patch)
	for _, name := range f.Names() {
		switch {
		case strings.HasSuffix(name, suffixUp):
			base := strings.TrimSuffix(name, suffixUp)
			p, err := readLoRA(f, base)
			if err != nil {
				return nil, err
			}
			out[base+".weight"] = p
		case strings.HasSuffix(name, suffixDiff):
			base := strings.TrimSuffix(name, suffixDiff)
			delta, _, err := f.ReadTensorF32(name)
			if err != nil {
				return nil, err
			}
			out[base+".weight"] = Diff{Delta: delta}
		}
	}
	return out, nil
}

func readLoRA(f *safetensors.File, base string) (LoRA, error) {
	up, _, err := f.ReadTensorF32(base + suffixUp)
	if err != nil {
		return LoRA{}, err
	}
	if _, ok := f.Tensor(base + suffixDown); !ok {
		return LoRA{}, fmt.Errorf("patcher: %s: missing %s", f.Path, base+suffixDown)
	}
	down, info, err := f.ReadTensorF32(base + suffixDown)
	if err != nil {
		return LoRA{}, err
	}
	if len(info.Shape) != 2 {
		return LoRA{}, fmt.Errorf("%w: %s has shape %v", ErrPatchShape, base+suffixDown, info.Shape)
	}
	l := LoRA{Up: up, Down: down, Rank: info.Shape[0]}
	if _, ok := f.Tensor(base + suffixAlpha); ok {
		alpha, _, err := f.ReadTensorF32(base + suffixAlpha)
		if err != nil {
			return LoRA{}, err
		}
		if len(alpha) != 1 {
			return LoRA{}, fmt.Errorf("%w: %s is not a scalar", ErrPatchShape, base+suffixAlpha)
		}
		l.Alpha = alpha[0]
	}
	return l, nil
}
