package patcher

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/samcharles93/ggload/internal/logger"
	"github.com/samcharles93/ggload/internal/tensor"
	"github.com/samcharles93/ggload/pkg/quant"
)

// Patcher holds a model's weights and the patches registered against them.
// UUID identifies the current patch set; clones share it until either side
// adds patches.
type Patcher struct {
	UUID uuid.UUID

	weights map[string]tensor.Tensor
	patches map[string][]Entry
	queued  map[string]int // entries per key already queued on a lazy tensor
	log     logger.Logger
}

func New(weights map[string]tensor.Tensor, log logger.Logger) *Patcher {
	if log == nil {
		log = logger.Discard()
	}
	return &Patcher{
		UUID:    uuid.New(),
		weights: weights,
		patches: make(map[string][]Entry),
		queued:  make(map[string]int),
		log:     log,
	}
}

// AddPatches registers patches for keys present in the model and returns
// those keys, sorted. Unknown keys are ignored.
func (p *Patcher) AddPatches(patches map[string]Patch, strength float32) []string {
	var added []string
	for key, patch := range patches {
		if _, ok := p.weights[key]; !ok {
			continue
		}
		p.patches[key] = append(p.patches[key], Entry{Strength: strength, Patch: patch})
		added = append(added, key)
	}
	if len(added) > 0 {
		p.UUID = uuid.New()
	}
	slices.Sort(added)
	p.log.Debug("added patches", "keys", len(added), "ignored", len(patches)-len(added), "uuid", p.UUID)
	return added
}

// Patches returns the entries registered for key.
func (p *Patcher) Patches(key string) []Entry {
	return slices.Clone(p.patches[key])
}

// Keys returns the model's tensor names in lexical order.
func (p *Patcher) Keys() []string {
	return slices.Sorted(maps.Keys(p.weights))
}

// Weight returns the tensor for key with its patches applied. Plain, F32 and
// F16 tensors are patched now and returned as a new plain tensor. Other lazy
// tensors get the patches queued and are returned as is; their Resolve
// applies them.
func (p *Patcher) Weight(key string) (tensor.Tensor, error) {
	t, ok := p.weights[key]
	if !ok {
		return nil, fmt.Errorf("patcher: unknown weight %s", key)
	}
	entries := p.patches[key]
	if len(entries) == 0 {
		return t, nil
	}

	if l, ok := t.(*tensor.Lazy); ok && !patchesEagerly(l.Type()) {
		if n := p.queued[key]; n < len(entries) {
			pending := slices.Clone(entries[n:])
			l.QueuePatch(key, func(k string, w []float32) ([]float32, error) {
				return CalculateWeight(pending, w, k)
			})
			p.queued[key] = len(entries)
			p.log.Debug("queued patches", "key", key, "type", l.Type().String(), "count", len(pending))
		}
		return l, nil
	}

	base, err := t.Materialize()
	if err != nil {
		return nil, fmt.Errorf("patcher: %s: %w", key, err)
	}
	w, err := CalculateWeight(entries, slices.Clone(base), key)
	if err != nil {
		return nil, fmt.Errorf("patcher: %w", err)
	}
	if t.Type() == quant.TypeF16 {
		return tensor.NewFloat16(w, t.Shape())
	}
	return tensor.NewPlain(w, t.Shape())
}

func patchesEagerly(t quant.Type) bool {
	return t == quant.TypeF32 || t == quant.TypeF16
}

// Clone copies the patch lists per key and shallow-clones lazy tensors.
// The clone keeps the same UUID.
func (p *Patcher) Clone() *Patcher {
	c := &Patcher{
		UUID:    p.UUID,
		weights: make(map[string]tensor.Tensor, len(p.weights)),
		patches: make(map[string][]Entry, len(p.patches)),
		queued:  make(map[string]int),
		log:     p.log,
	}
	for k, t := range p.weights {
		if l, ok := t.(*tensor.Lazy); ok {
			t = l.CloneShallow()
		}
		c.weights[k] = t
	}
	for k, entries := range p.patches {
		c.patches[k] = slices.Clone(entries)
	}
	return c
}

// Close releases the lazy tensors held by the patcher. Call it on clones
// once they are no longer used.
func (p *Patcher) Close() error {
	var errs []error
	for _, t := range p.weights {
		if l, ok := t.(*tensor.Lazy); ok {
			errs = append(errs, l.Close())
		}
	}
	return errors.Join(errs...)
}
