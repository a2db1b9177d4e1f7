package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrUnknownCategory = errors.New("config: unknown category")
	ErrModelNotFound   = errors.New("config: model not found")
)

// Catalog associates categories with directories and file extensions.
type Catalog struct {
	categories map[string]Category
}

// DefaultCatalog returns a new catalog with the built-in extension
// associations and no directories.
func DefaultCatalog() *Catalog {
	return &Catalog{categories: map[string]Category{
		"unet_gguf": {Extensions: []string{".gguf"}},
		"clip_gguf": {Extensions: []string{".gguf"}},
		"clip":      {Extensions: []string{".safetensors", ".gguf"}},
	}}
}

// Set replaces a category. Empty fields keep the existing values.
func (c *Catalog) Set(name string, cat Category) {
	cur := c.categories[name]
	if len(cat.Dirs) > 0 {
		cur.Dirs = slices.Clone(cat.Dirs)
	}
	if len(cat.Extensions) > 0 {
		cur.Extensions = normalizeExts(cat.Extensions)
	}
	c.categories[name] = cur
}

// SetDirs replaces the directories of a category.
func (c *Catalog) SetDirs(name string, dirs ...string) {
	cur := c.categories[name]
	cur.Dirs = slices.Clone(dirs)
	c.categories[name] = cur
}

func (c *Catalog) Category(name string) (Category, bool) {
	cat, ok := c.categories[name]
	return cat, ok
}

func (c *Catalog) Categories() []string {
	return slices.Sorted(maps.Keys(c.categories))
}

// List returns every file under the category's directories whose extension
// matches, as slash-separated paths relative to their directory, sorted and
// without duplicates. Missing directories are skipped.
func (c *Catalog) List(category string) ([]string, error) {
	cat, ok := c.categories[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	seen := make(map[string]struct{})
	for _, dir := range cat.Dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir && errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !matchExt(cat.Extensions, path) {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			seen[filepath.ToSlash(rel)] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("config: list %s: %w", category, err)
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// Resolve returns the full path of name in the first category directory
// that holds it. Names may not escape their directory.
func (c *Catalog) Resolve(category, name string) (string, error) {
	cat, ok := c.categories[category]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	if !filepath.IsLocal(filepath.FromSlash(name)) || !matchExt(cat.Extensions, name) {
		return "", fmt.Errorf("%w: %s/%s", ErrModelNotFound, category, name)
	}
	for _, dir := range cat.Dirs {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrModelNotFound, category, name)
}

func matchExt(exts []string, path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(exts, ext)
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
