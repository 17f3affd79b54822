package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/errs"
)

func TestOllamaProvider_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)

		resp := ollamaResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: server.URL + "/", Model: "all-minilm"})
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{2, 1}, vecs[2])
	assert.Equal(t, "ollama_all_minilm", p.Name())
	assert.NoError(t, p.Close())
}

func TestOllamaProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		inputs []string
	}{
		{"server error", http.StatusInternalServerError, `model not found`, []string{"a"}},
		{"bad json", http.StatusOK, `{`, []string{"a"}},
		{"count mismatch", http.StatusOK, `{"embeddings": [[1, 2]]}`, []string{"a", "b"}},
		{"empty vector", http.StatusOK, `{"embeddings": [[]]}`, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})
			_, err := p.EmbedBatch(context.Background(), tt.inputs)
			assert.Equal(t, "provider", errs.Kind(err), "err = %v", err)
		})
	}
}

func TestOllamaProvider_Defaults(t *testing.T) {
	p := NewOllamaProvider(OllamaConfig{})
	assert.Equal(t, DefaultOllamaURL, p.baseURL)
	assert.Equal(t, "ollama_nomic_embed_text", p.Name())
}
