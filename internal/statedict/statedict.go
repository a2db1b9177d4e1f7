// Package statedict assembles name-to-tensor maps from GGUF and safetensors
// checkpoints for a host framework.
package statedict

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samcharles93/ggload/internal/gguf"
	"github.com/samcharles93/ggload/internal/logger"
	"github.com/samcharles93/ggload/internal/safetensors"
	"github.com/samcharles93/ggload/internal/tensor"
	"github.com/samcharles93/ggload/pkg/quant"
)

// StateDict maps tensor names to tensors.
type StateDict map[string]tensor.Tensor

// Keys returns the names in lexical order.
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// TypeCounts returns the number of tensors per type.
func (sd StateDict) TypeCounts() map[quant.Type]int {
	counts := make(map[quant.Type]int)
	for _, t := range sd {
		counts[t.Type()]++
	}
	return counts
}

// Close releases every lazy tensor's reference to its file.
func (sd StateDict) Close() error {
	var errs []error
	for _, t := range sd {
		if l, ok := t.(*tensor.Lazy); ok {
			errs = append(errs, l.Close())
		}
	}
	return errors.Join(errs...)
}

type options struct {
	log      logger.Logger
	registry *quant.Registry
	decoder  tensor.DecodeFunc
	mmap     bool
}

type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithRegistry(r *quant.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithDecoder installs a decode hook on every lazy tensor.
func WithDecoder(fn tensor.DecodeFunc) Option {
	return func(o *options) { o.decoder = fn }
}

// WithoutMmap reads checkpoints into memory instead of mapping them.
func WithoutMmap() Option {
	return func(o *options) { o.mmap = false }
}

func buildOptions(opts []Option) options {
	o := options{log: logger.Discard(), registry: quant.Default(), mmap: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) ggufOptions() []gguf.Option {
	g := []gguf.Option{gguf.WithLogger(o.log), gguf.WithRegistry(o.registry)}
	if !o.mmap {
		g = append(g, gguf.WithoutMmap())
	}
	return g
}

// Assemble wraps every tensor of f in a lazy tensor. Each one holds its own
// reference to the file mapping, so f may be closed afterwards.
func Assemble(f *gguf.File, opts ...Option) (StateDict, error) {
	o := buildOptions(opts)
	return assemble(f, o)
}

func assemble(f *gguf.File, o options) (StateDict, error) {
	m := f.Mapping()
	if m == nil {
		return nil, fmt.Errorf("statedict: %s: %w", f.Path, gguf.ErrReleased)
	}

	sd := make(StateDict, len(f.Tensors))
	for _, ti := range f.Tensors {
		data, err := f.TensorData(ti)
		if err != nil {
			_ = sd.Close()
			return nil, err
		}
		if err := m.Retain(); err != nil {
			_ = sd.Close()
			return nil, err
		}
		lopts := []tensor.LazyOption{tensor.WithOwner(m), tensor.WithRegistry(o.registry)}
		if o.decoder != nil {
			lopts = append(lopts, tensor.WithDecoder(o.decoder))
		}
		sd[ti.Name] = tensor.NewLazy(data, ti.Type, ti.Shape(), lopts...)
	}

	o.log.Debug("assembled state dict", "path", f.Path, "tensors", len(sd))
	return sd, nil
}

// LoadModel opens a GGUF checkpoint and assembles all of its tensors.
func LoadModel(path string, opts ...Option) (StateDict, error) {
	o := buildOptions(opts)
	f, err := gguf.Open(path, o.ggufOptions()...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return assemble(f, o)
}

// LoadTextEncoder loads a text-encoder checkpoint. GGUF files have their
// keys translated by table (the built-in T5 table when nil), are checked
// for the table's sentinel, and have the table's Dequantize keys loaded as
// F16. Safetensors files are loaded entirely as F16 plain tensors.
func LoadTextEncoder(path string, table *RemapTable, opts ...Option) (StateDict, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gguf":
		if table == nil {
			table = T5Table()
		}
		return loadGGUFTextEncoder(path, table, buildOptions(opts))
	case ".safetensors", ".sft":
		return loadSafetensors(path, buildOptions(opts))
	default:
		return nil, fmt.Errorf("statedict: %s: %w", path, ErrUnsupportedFormat)
	}
}

// LoadTextEncoders loads each path in order. A failure on any path releases
// everything loaded so far.
func LoadTextEncoders(paths []string, table *RemapTable, opts ...Option) ([]StateDict, error) {
	out := make([]StateDict, 0, len(paths))
	for _, p := range paths {
		sd, err := LoadTextEncoder(p, table, opts...)
		if err != nil {
			for _, done := range out {
				_ = done.Close()
			}
			return nil, err
		}
		out = append(out, sd)
	}
	return out, nil
}

func loadGGUFTextEncoder(path string, table *RemapTable, o options) (StateDict, error) {
	f, err := gguf.Open(path, o.ggufOptions()...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	raw, err := assemble(f, o)
	if err != nil {
		return nil, err
	}

	sd := make(StateDict, len(raw))
	for k, v := range raw {
		sd[table.Apply(k)] = v
	}
	if len(sd) != len(raw) {
		_ = raw.Close()
		return nil, fmt.Errorf("statedict: %s: remap table %s maps distinct keys to one name", path, table.Name)
	}

	if table.Sentinel != "" {
		if _, ok := sd[table.Apply(table.Sentinel)]; !ok {
			_ = sd.Close()
			return nil, &InvalidCheckpointError{Path: path, Key: table.Sentinel}
		}
	}

	for _, key := range table.Dequantize {
		t, ok := sd[key]
		if !ok {
			continue
		}
		plain, err := toFloat16(t)
		if err != nil {
			_ = sd.Close()
			return nil, fmt.Errorf("statedict: %s: dequantize %s: %w", path, key, err)
		}
		sd[key] = plain
		if l, ok := t.(*tensor.Lazy); ok {
			_ = l.Close()
		}
	}

	o.log.Info("loaded text encoder", "path", path, "table", table.Name, "tensors", len(sd))
	return sd, nil
}

func toFloat16(t tensor.Tensor) (*tensor.Plain, error) {
	values, err := t.Materialize()
	if err != nil {
		return nil, err
	}
	return tensor.NewFloat16(values, t.Shape())
}

func loadSafetensors(path string, o options) (StateDict, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	sd := make(StateDict, len(f.Tensors))
	for _, name := range f.Names() {
		values, info, err := f.ReadTensorF32(name)
		if err != nil {
			return nil, fmt.Errorf("statedict: %s: %w", path, err)
		}
		// Integer tensors such as position ids stay F32 so large values
		// survive.
		newPlain := tensor.NewFloat16
		if safetensors.IsInteger(info.DType) {
			newPlain = tensor.NewPlain
		}
		p, err := newPlain(values, info.Shape)
		if err != nil {
			return nil, fmt.Errorf("statedict: %s: tensor %s: %w", path, name, err)
		}
		sd[name] = p
	}
	o.log.Info("loaded text encoder", "path", path, "format", "safetensors", "tensors", len(sd))
	return sd, nil
}
