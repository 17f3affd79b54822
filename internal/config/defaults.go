package config

import "os"

// Default values shared with the CLI.
const (
	DefaultStoreFile   = ".kioku_store.json"
	DefaultGlob        = "**/*"
	DefaultOpenAIModel = "text-embedding-ada-002"
	DefaultMaxTokens   = 8192
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./" + DefaultStoreFile
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "json"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Model = DefaultOpenAIModel
		case "ollama":
			cfg.Embedding.Model = "nomic-embed-text"
		}
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		switch cfg.Embedding.Provider {
		case "onnx":
			cfg.Embedding.MaxTokens = 256
		default:
			cfg.Embedding.MaxTokens = DefaultMaxTokens
		}
	}
	if cfg.Embedding.TokenEncoding == "" {
		cfg.Embedding.TokenEncoding = "cl100k_base"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 120
	}
	if cfg.Ingest.Root == "" {
		cfg.Ingest.Root = "."
	}
	if cfg.Ingest.Glob == "" {
		cfg.Ingest.Glob = DefaultGlob
	}
	if cfg.Search.DefaultCount == 0 {
		cfg.Search.DefaultCount = 1
	}
	if cfg.Search.MaxCount == 0 {
		cfg.Search.MaxCount = 100
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = 500
	}
}
