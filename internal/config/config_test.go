package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models_dir: /srv/models
log_level: debug
workers: 4
server_address: 0.0.0.0:9000
catalog:
  unet_gguf:
    dirs: [/mnt/unet]
  vae:
    dirs: [/mnt/vae]
    extensions: [safetensors, .PT]
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/models", cfg.ModelsDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.NotNil(t, cfg.Workers)
	assert.Equal(t, 4, *cfg.Workers)
	assert.Equal(t, "0.0.0.0:9000", cfg.ServerAddress)

	cat := cfg.NewCatalog()
	unet, ok := cat.Category("unet_gguf")
	require.True(t, ok)
	assert.Equal(t, []string{"/mnt/unet"}, unet.Dirs)
	assert.Equal(t, []string{".gguf"}, unet.Extensions)
	clip, _ := cat.Category("clip")
	assert.Equal(t, []string{filepath.Join("/srv/models", "clip")}, clip.Dirs)
	vae, _ := cat.Category("vae")
	assert.Equal(t, []string{".safetensors", ".pt"}, vae.Extensions)
	assert.Equal(t, []string{"clip", "clip_gguf", "unet_gguf", "vae"}, cat.Categories())
}

func TestLoadFileMissingAndInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := LoadFile(filepath.Join(dir, "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("workers: [1"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)

	neg := filepath.Join(dir, "neg.yaml")
	require.NoError(t, os.WriteFile(neg, []byte("workers: -1"), 0o644))
	_, err = LoadFile(neg)
	assert.Error(t, err)
}

func TestDefaultCatalogIsFresh(t *testing.T) {
	t.Parallel()
	a := DefaultCatalog()
	a.SetDirs("clip", "/tmp/x")
	b := DefaultCatalog()
	clip, _ := b.Category("clip")
	assert.Empty(t, clip.Dirs)
	assert.Equal(t, []string{".safetensors", ".gguf"}, clip.Extensions)
}

func TestCatalogListAndResolve(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	first := filepath.Join(root, "a")
	second := filepath.Join(root, "b")
	touch(t, filepath.Join(first, "t5-q8.gguf"))
	touch(t, filepath.Join(first, "sub", "clip_l.safetensors"))
	touch(t, filepath.Join(first, "notes.txt"))
	touch(t, filepath.Join(second, "t5-q8.gguf"))
	touch(t, filepath.Join(second, "CLIP_G.GGUF"))

	c := DefaultCatalog()
	c.SetDirs("clip", first, second, filepath.Join(root, "missing"))

	names, err := c.List("clip")
	require.NoError(t, err)
	assert.Equal(t, []string{"CLIP_G.GGUF", "sub/clip_l.safetensors", "t5-q8.gguf"}, names)

	gguf, err := c.List("clip_gguf")
	require.NoError(t, err)
	assert.Empty(t, gguf)

	path, err := c.Resolve("clip", "t5-q8.gguf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(first, "t5-q8.gguf"), path)

	path, err = c.Resolve("clip", "sub/clip_l.safetensors")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(first, "sub", "clip_l.safetensors"), path)

	_, err = c.Resolve("clip", "../b/t5-q8.gguf")
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = c.Resolve("clip", "notes.txt")
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = c.Resolve("clip", "absent.gguf")
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = c.List("lora")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
