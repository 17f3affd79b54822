package embedding

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
)

// New builds the provider selected by cfg. Remote providers are wrapped in a
// LimitedProvider so oversized inputs fail before any request is made.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key (embedding.api_key or OPENAI_API_KEY)")
		}
		p := NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: timeout,
		}, WithOpenAILogger(logger))
		counter, err := NewTiktokenCounter(cfg.TokenEncoding)
		if err != nil {
			return nil, err
		}
		return NewLimitedProvider(p, counter, cfg.MaxTokens, WithLimitLogger(logger)), nil

	case "ollama":
		p := NewOllamaProvider(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: timeout})
		return NewLimitedProvider(p, WordCounter{}, cfg.MaxTokens, WithLimitLogger(logger)), nil

	case "onnx":
		p, err := NewONNXProvider(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return p, nil

	case "mock":
		return NewLimitedProvider(NewMockProvider(cfg.Dimensions), WordCounter{}, cfg.MaxTokens, WithLimitLogger(logger)), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
