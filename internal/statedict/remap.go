package statedict

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed remap/t5_llamacpp.yaml
var t5LlamaCppYAML []byte

// Rule replaces every occurrence of From with To.
type Rule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// RemapTable translates one foreign naming convention into the host's.
type RemapTable struct {
	Name     string `yaml:"name"`
	Version  int    `yaml:"version"`
	Sentinel string `yaml:"sentinel"`
	Rules    []Rule `yaml:"rules"`
	// Dequantize lists remapped keys that are loaded eagerly as F16.
	Dequantize []string `yaml:"dequantize"`
}

// Apply runs every rule over key in order. Later rules see the output of
// earlier ones.
func (t *RemapTable) Apply(key string) string {
	for _, r := range t.Rules {
		key = strings.ReplaceAll(key, r.From, r.To)
	}
	return key
}

// ForcesDequant reports whether the remapped key must be loaded as F16.
func (t *RemapTable) ForcesDequant(key string) bool {
	return slices.Contains(t.Dequantize, key)
}

func (t *RemapTable) clone() *RemapTable {
	c := *t
	c.Rules = slices.Clone(t.Rules)
	c.Dequantize = slices.Clone(t.Dequantize)
	return &c
}

func (t *RemapTable) validate() error {
	if t.Name == "" {
		return errors.New("remap table has no name")
	}
	for i, r := range t.Rules {
		if r.From == "" {
			return fmt.Errorf("remap table %s: rule %d has an empty pattern", t.Name, i)
		}
	}
	return nil
}

// LoadRemapTable parses a YAML remap table. Unknown fields are rejected.
func LoadRemapTable(r io.Reader) (*RemapTable, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var t RemapTable
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("statedict: decode remap table: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("statedict: %w", err)
	}
	return &t, nil
}

// LoadRemapFile is LoadRemapTable for a file on disk.
func LoadRemapFile(path string) (*RemapTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return LoadRemapTable(f)
}

var builtinT5 = sync.OnceValues(func() (*RemapTable, error) {
	return LoadRemapTable(bytes.NewReader(t5LlamaCppYAML))
})

// T5Table returns a copy of the built-in llama.cpp T5 encoder table.
func T5Table() *RemapTable {
	t, err := builtinT5()
	if err != nil {
		panic("statedict: built-in remap table: " + err.Error())
	}
	return t.clone()
}
