// Package config reads the ggload configuration file and resolves model
// files through a catalog of categories.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config mirrors ~/.config/ggload/config.yaml. Pointer fields distinguish
// "not set" from zero values.
type Config struct {
	ModelsDir     string `yaml:"models_dir"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	Workers       *int   `yaml:"workers"`
	ServerAddress string `yaml:"server_address"`
	// Remap is a path to a YAML remap table used instead of the built-in one.
	Remap   string              `yaml:"remap"`
	Catalog map[string]Category `yaml:"catalog"`
}

// Category is a named set of model directories and accepted extensions.
type Category struct {
	Dirs       []string `yaml:"dirs"`
	Extensions []string `yaml:"extensions"`
}

// Path returns the default config file location, or "" when the user
// config directory is unknown.
func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ggload", "config.yaml")
}

// Load reads the config file at Path. A missing file yields a zero Config.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads a config file. A missing file yields a zero Config; a file
// that does not parse is an error.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Workers != nil && *cfg.Workers < 0 {
		return Config{}, fmt.Errorf("config: %s: workers must not be negative", path)
	}
	return cfg, nil
}

// NewCatalog builds the catalog for cfg: the default categories, with
// directories under ModelsDir, overridden by the config's own entries.
func (cfg Config) NewCatalog() *Catalog {
	c := DefaultCatalog()
	if cfg.ModelsDir != "" {
		c.SetDirs("unet_gguf", filepath.Join(cfg.ModelsDir, "unet"))
		c.SetDirs("clip_gguf", filepath.Join(cfg.ModelsDir, "clip"))
		c.SetDirs("clip", filepath.Join(cfg.ModelsDir, "clip"))
	}
	for name, cat := range cfg.Catalog {
		c.Set(name, cat)
	}
	return c
}
