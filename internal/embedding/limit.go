package embedding

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/errs"
)

// LimitedProvider rejects batches containing an input whose token count is
// at or above the limit. The whole batch is rejected before any request is
// sent; inputs are never truncated.
type LimitedProvider struct {
	Provider
	counter Counter
	limit   int
	logger  *zap.Logger
}

// LimitOption configures a LimitedProvider.
type LimitOption func(*LimitedProvider)

// WithLimitLogger sets a logger that records rejected batches.
func WithLimitLogger(l *zap.Logger) LimitOption {
	return func(p *LimitedProvider) { p.logger = l }
}

// NewLimitedProvider wraps p so that every input must count fewer than limit
// tokens.
func NewLimitedProvider(p Provider, counter Counter, limit int, opts ...LimitOption) *LimitedProvider {
	lp := &LimitedProvider{Provider: p, counter: counter, limit: limit, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

// CountTokens returns the token count of each input.
func (p *LimitedProvider) CountTokens(inputs []string) []int {
	counts := make([]int, len(inputs))
	for i, in := range inputs {
		counts[i] = p.counter.Count(in)
	}
	return counts
}

// Check returns a CapacityError naming every input at or over the limit.
func (p *LimitedProvider) Check(inputs []string) error {
	return p.check(p.CountTokens(inputs))
}

func (p *LimitedProvider) check(counts []int) error {
	var ce *errs.CapacityError
	for i, n := range counts {
		if n < p.limit {
			continue
		}
		if ce == nil {
			ce = &errs.CapacityError{Limit: p.limit}
		}
		ce.Indices = append(ce.Indices, i)
		ce.Counts = append(ce.Counts, n)
	}
	if ce != nil {
		p.logger.Warn("inputs over the token limit",
			zap.Ints("indices", ce.Indices),
			zap.Ints("counts", ce.Counts),
			zap.Int("limit", p.limit))
		return ce
	}
	return nil
}

// EmbedBatch checks the batch and forwards it.
func (p *LimitedProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	vecs, _, err := p.EmbedBatchCounted(ctx, inputs)
	return vecs, err
}

// EmbedBatchCounted checks the batch, forwards it and returns the token
// count of each input. Every input is counted once.
func (p *LimitedProvider) EmbedBatchCounted(ctx context.Context, inputs []string) ([][]float32, []int, error) {
	counts := p.CountTokens(inputs)
	if err := p.check(counts); err != nil {
		return nil, nil, err
	}
	vecs, err := p.Provider.EmbedBatch(ctx, inputs)
	if err != nil {
		return nil, nil, err
	}
	return vecs, counts, nil
}
