// Package embedding turns text into vectors. Providers are opaque: they map a
// batch of inputs to one vector per input, in order, and tag the vectors with
// the embedder that produced them.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kioku/internal/errs"
)

// Provider produces vector embeddings for a batch of inputs.
type Provider interface {
	// EmbedBatch returns one vector per input, in input order, or an error.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
	// Name is the embedder tag stamped onto stored items.
	Name() string
	Close() error
}

// CountingProvider is implemented by providers that measure the token count
// of their inputs while embedding them.
type CountingProvider interface {
	Provider
	EmbedBatchCounted(ctx context.Context, inputs []string) ([][]float32, []int, error)
}

// Embed embeds a single input.
func Embed(ctx context.Context, p Provider, input string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// checkBatch verifies a provider response against its request.
func checkBatch(provider string, inputs []string, vecs [][]float32) error {
	if len(vecs) != len(inputs) {
		return &errs.ProviderError{
			Provider: provider,
			Err:      fmt.Errorf("returned %d embeddings for %d inputs", len(vecs), len(inputs)),
		}
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return &errs.ProviderError{
				Provider: provider,
				Err:      fmt.Errorf("empty embedding for input %d", i),
			}
		}
	}
	return nil
}
