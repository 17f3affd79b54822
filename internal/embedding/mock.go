package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/kioku/pkg/utils"
)

// MockProvider is a deterministic provider for tests and offline use. The
// same text always gets the same unit-length vector.
type MockProvider struct {
	dimensions int
}

// NewMockProvider returns a provider that produces deterministic embeddings of the given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockProvider{dimensions: dimensions}
}

func (e *MockProvider) embed(text string) []float32 {
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

// EmbedBatch returns a deterministic embedding per input.
func (e *MockProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

// Name returns the embedder tag.
func (e *MockProvider) Name() string {
	return fmt.Sprintf("mock_%d", e.dimensions)
}

// Dimensions returns the embedding dimension.
func (e *MockProvider) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockProvider.
func (e *MockProvider) Close() error {
	return nil
}
