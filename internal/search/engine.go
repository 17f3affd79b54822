package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
)

// Engine answers text queries: it embeds the prompt and ranks the store.
type Engine struct {
	provider embedding.Provider
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine that embeds prompts with provider.
func NewEngine(provider embedding.Provider, opts ...EngineOption) *Engine {
	e := &Engine{provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search embeds prompt and returns the ranked matches in m. An empty store
// or a non-positive TopK returns no results without calling the provider.
func (e *Engine) Search(ctx context.Context, m Matrix, prompt string, opts Options) ([]models.Scored, error) {
	if m.Len() == 0 || opts.TopK <= 0 {
		return []models.Scored{}, nil
	}

	start := time.Now()
	vec, err := embedding.Embed(ctx, e.provider, prompt)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := Query(vec, m, opts)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("query ranked",
		zap.Int("items", m.Len()),
		zap.Int("top_k", opts.TopK),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}
