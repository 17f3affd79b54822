package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/errs"
)

// OpenAIProvider embeds text with the OpenAI embeddings API.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
	logger *zap.Logger
}

// OpenAIConfig holds settings for NewOpenAIProvider.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for OpenAI-compatible APIs
	Timeout time.Duration
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAILogger sets a logger for request debug output.
func WithOpenAILogger(l *zap.Logger) OpenAIOption {
	return func(p *OpenAIProvider) { p.logger = l }
}

// NewOpenAIProvider creates a provider for the given model.
func NewOpenAIProvider(cfg OpenAIConfig, opts ...OpenAIOption) *OpenAIProvider {
	model := openai.AdaEmbeddingV2
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	p := &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EmbedBatch sends all inputs in one request. Results are placed by their
// response index, so out-of-order responses are handled.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: p.model,
	})
	if err != nil {
		return nil, &errs.ProviderError{Provider: p.Name(), Err: err}
	}
	p.logger.Debug("openai embeddings",
		zap.Int("inputs", len(inputs)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Duration("elapsed", time.Since(start)))

	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &errs.ProviderError{Provider: p.Name(), Err: fmt.Errorf("response index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	if err := checkBatch(p.Name(), inputs, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Name returns the embedder tag, e.g. openai_ada_002 for text-embedding-ada-002.
func (p *OpenAIProvider) Name() string {
	tag := strings.TrimPrefix(string(p.model), "text-embedding-")
	return "openai_" + strings.ReplaceAll(tag, "-", "_")
}

// Close is a no-op.
func (p *OpenAIProvider) Close() error { return nil }
