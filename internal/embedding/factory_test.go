package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("mock", func(t *testing.T) {
		p, err := New(config.EmbeddingConfig{Provider: "mock", Dimensions: 8, MaxTokens: 100}, nil)
		require.NoError(t, err)
		assert.Equal(t, "mock_8", p.Name())
		_, ok := p.(CountingProvider)
		assert.True(t, ok, "mock provider should report token counts")
	})

	t.Run("ollama", func(t *testing.T) {
		p, err := New(config.EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text", MaxTokens: 8192}, nil)
		require.NoError(t, err)
		assert.Equal(t, "ollama_nomic_embed_text", p.Name())
	})

	t.Run("openai without key", func(t *testing.T) {
		_, err := New(config.EmbeddingConfig{Provider: "openai"}, nil)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(config.EmbeddingConfig{Provider: "cohere"}, nil)
		assert.Error(t, err)
	})
}
