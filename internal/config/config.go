// Package config provides configuration loading and structs for kioku.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig selects where and how the store is persisted.
type StoreConfig struct {
	Path    string `yaml:"path"`
	Backend string `yaml:"backend"` // json or sqlite
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // openai, ollama, onnx or mock
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	ModelPath      string `yaml:"model_path"`
	Dimensions     int    `yaml:"dimensions"`
	MaxTokens      int    `yaml:"max_tokens"`
	TokenEncoding  string `yaml:"token_encoding"`
	CacheSize      int    `yaml:"cache_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// IngestConfig controls which files a sync reads.
type IngestConfig struct {
	Root       string   `yaml:"root"`
	Glob       string   `yaml:"glob"`
	Chunked    *bool    `yaml:"chunked"`
	Extensions []string `yaml:"extensions"`
}

// ChunkedOrDefault returns whether files are split into chunks; defaults to
// true when unset.
func (c *IngestConfig) ChunkedOrDefault() bool {
	if c.Chunked != nil {
		return *c.Chunked
	}
	return true
}

// SearchConfig holds query settings.
type SearchConfig struct {
	DefaultCount int      `yaml:"default_count"`
	MaxCount     int      `yaml:"max_count"`
	Threshold    *float64 `yaml:"threshold"`
	Cosine       bool     `yaml:"cosine"`
	WithContent  *bool    `yaml:"with_content"`
}

// WithContentOrDefault returns whether query results carry content; defaults
// to true when unset.
func (s *SearchConfig) WithContentOrDefault() bool {
	if s.WithContent != nil {
		return *s.WithContent
	}
	return true
}

// WatchConfig holds file watch settings.
type WatchConfig struct {
	DebounceMillis int   `yaml:"debounce_ms"`
	RemoveMissing  *bool `yaml:"remove_missing"`
}

// RemoveMissingOrDefault returns whether watch-triggered syncs remove items
// for deleted files; defaults to true when unset.
func (w *WatchConfig) RemoveMissingOrDefault() bool {
	if w.RemoveMissing != nil {
		return *w.RemoveMissing
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Store.Path = expandPath(cfg.Store.Path, configDir)
	cfg.Ingest.Root = expandPath(cfg.Ingest.Root, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file exists. Paths
// stay relative to the working directory.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings that defaults cannot repair.
func Validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("invalid store.backend %q: want json or sqlite", cfg.Store.Backend)
	}
	switch cfg.Embedding.Provider {
	case "openai", "ollama", "onnx", "mock":
	default:
		return fmt.Errorf("invalid embedding.provider %q: want openai, ollama, onnx or mock", cfg.Embedding.Provider)
	}
	if cfg.Search.MaxCount < cfg.Search.DefaultCount {
		return fmt.Errorf("search.max_count (%d) is below search.default_count (%d)", cfg.Search.MaxCount, cfg.Search.DefaultCount)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
