package statedict

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestT5Table(t *testing.T) {
	t.Parallel()
	table := T5Table()
	assert.Equal(t, "t5-llamacpp", table.Name)
	assert.Equal(t, 1, table.Version)
	assert.Equal(t, "enc.blk.23.ffn_up.weight", table.Sentinel)
	assert.Len(t, table.Rules, 14)
	assert.True(t, table.ForcesDequant("shared.weight"))

	tests := map[string]string{
		"enc.blk.23.ffn_up.weight":    "encoder.block.23.layer.1.DenseReluDense.wi_1.weight",
		"enc.blk.23.ffn_gate.weight":  "encoder.block.23.layer.1.DenseReluDense.wi_0.weight",
		"enc.blk.5.ffn_down.weight":   "encoder.block.5.layer.1.DenseReluDense.wo.weight",
		"enc.blk.0.attn_rel_b.weight": "encoder.block.0.layer.0.SelfAttention.relative_attention_bias.weight",
		"enc.blk.1.attn_norm.weight":  "encoder.block.1.layer.0.layer_norm.weight",
		"enc.blk.1.ffn_norm.weight":   "encoder.block.1.layer.1.layer_norm.weight",
		"enc.output_norm.weight":      "encoder.final_layer_norm.weight",
		"token_embd.weight":           "shared.weight",
		"enc.blk.2.attn_o.weight":     "encoder.block.2.layer.0.SelfAttention.o.weight",
		"unrelated.tensor":            "unrelated.tensor",
	}
	for in, want := range tests {
		assert.Equal(t, want, table.Apply(in), in)
	}

	// Copies are independent.
	table.Rules = nil
	assert.Len(t, T5Table().Rules, 14)
}

func TestRemapOrderMatters(t *testing.T) {
	t.Parallel()
	forward := &RemapTable{Name: "f", Rules: []Rule{{From: "a", To: "b"}, {From: "b", To: "c"}}}
	reverse := &RemapTable{Name: "r", Rules: []Rule{{From: "b", To: "c"}, {From: "a", To: "b"}}}
	assert.Equal(t, "cc", forward.Apply("ab"))
	assert.Equal(t, "bc", reverse.Apply("ab"))
}

func TestLoadRemapTable(t *testing.T) {
	t.Parallel()
	table, err := LoadRemapTable(strings.NewReader(`
name: clip-g
version: 2
sentinel: blk.0.x
rules:
  - {from: "blk.", to: "layers."}
dequantize: [layers.0.x]
`))
	require.NoError(t, err)
	assert.Equal(t, "clip-g", table.Name)
	assert.Equal(t, "layers.0.x", table.Apply("blk.0.x"))
	assert.True(t, table.ForcesDequant("layers.0.x"))

	_, err = LoadRemapTable(strings.NewReader("name: x\nrulez: []\n"))
	assert.Error(t, err, "unknown fields must be rejected")

	_, err = LoadRemapTable(strings.NewReader("name: x\nrules:\n  - {from: \"\", to: y}\n"))
	assert.Error(t, err)

	_, err = LoadRemapTable(strings.NewReader("version: 1\n"))
	assert.Error(t, err)
}
