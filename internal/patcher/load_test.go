package patcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/ggload/internal/safetensors"
)

func TestLoadPatches(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "lora.safetensors")
	require.NoError(t, safetensors.WriteFile(path, []safetensors.Entry{
		{Name: "blk.0.attn_q.lora_up.weight", DType: "F32", Shape: []int{2, 1}, Data: f32Bytes(1, 2)},
		{Name: "blk.0.attn_q.lora_down.weight", DType: "F32", Shape: []int{1, 2}, Data: f32Bytes(1, 1)},
		{Name: "blk.0.attn_q.alpha", DType: "F32", Shape: []int{}, Data: f32Bytes(2)},
		{Name: "norm.diff", DType: "F32", Shape: []int{2}, Data: f32Bytes(0.5, -0.5)},
		{Name: "unrelated.weight", DType: "F32", Shape: []int{1}, Data: f32Bytes(9)},
	}, nil))

	patches, err := LoadPatches(path)
	require.NoError(t, err)
	require.Len(t, patches, 2)

	lora, ok := patches["blk.0.attn_q.weight"].(LoRA)
	require.True(t, ok)
	assert.Equal(t, 1, lora.Rank)
	assert.Equal(t, float32(2), lora.Alpha)
	assert.Equal(t, []float32{1, 2}, lora.Up)

	w := make([]float32, 4)
	require.NoError(t, lora.Apply(w, 1))
	assert.Equal(t, []float32{2, 2, 4, 4}, w)

	diff, ok := patches["norm.weight"].(Diff)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, -0.5}, diff.Delta)
}

func TestLoadPatchesMissingDown(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "broken.safetensors")
	require.NoError(t, safetensors.WriteFile(path, []safetensors.Entry{
		{Name: "x.lora_up.weight", DType: "F32", Shape: []int{1, 1}, Data: f32Bytes(1)},
	}, nil))
	_, err := LoadPatches(path)
	assert.ErrorContains(t, err, "missing x.lora_down.weight")
}
