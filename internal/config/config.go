// Package config loads and validates slotcache CLI configuration files.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "gopkg.in/yaml.v3"
)

// Config mirrors the slotcache configuration file schema. TOML is the
// primary format; files ending in .yaml or .yml are parsed as YAML with the
// same keys.
type Config struct {
	Dir     string `toml:"dir" yaml:"dir"`
	KeyFile string `toml:"key_file" yaml:"key_file"`
	Verbose bool   `toml:"verbose" yaml:"verbose"`
}

// Settings is the fully-resolved configuration used by the CLI.
type Settings struct {
	Dir     string
	Key     []byte
	Verbose bool
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	// Strict treats unknown configuration keys as errors.
	Strict bool
}

// Result wraps resolved settings alongside any non-fatal warnings.
type Result struct {
	Settings Settings
	Warnings []string
}

// Load reads, validates, and resolves a slotcache configuration file.
// Relative paths in the file are resolved against the file's directory.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
	}

	unknownKeys, err := collectUnknownKeys(path, data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if len(unknownKeys) > 0 {
		slices.Sort(unknownKeys)
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknownKeys, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	baseDir := filepath.Dir(path)

	dir := cfg.Dir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}

	var key []byte
	if cfg.KeyFile != "" {
		keyPath := cfg.KeyFile
		if !filepath.IsAbs(keyPath) {
			keyPath = filepath.Join(baseDir, keyPath)
		}
		key, err = loadKey(keyPath)
		if err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
	}

	res.Settings = Settings{
		Dir:     dir,
		Key:     key,
		Verbose: cfg.Verbose,
	}
	return res, nil
}

// loadKey reads a hex-encoded 32-byte encryption key.
func loadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key file %s: key must be 32 bytes, got %d", path, len(key))
	}
	return key, nil
}

func collectUnknownKeys(path string, data []byte) ([]string, error) {
	var raw map[string]any
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	} else {
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	known := map[string]struct{}{
		"dir":      {},
		"key_file": {},
		"verbose":  {},
	}

	unknown := make([]string, 0)
	for key := range raw {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
