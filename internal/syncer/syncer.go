// Package syncer brings a store in line with a candidate set, embedding only
// the candidates whose content changed.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/contentid"
	"github.com/hyperjump/kioku/internal/detect"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/store"
)

// Engine runs synchronizations. It is stateless between runs: the store is
// passed in and the next store state is handed back.
type Engine struct {
	provider  embedding.Provider
	persister store.Persister
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for sync events.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPersister saves the store after every sync that changed it.
func WithPersister(p store.Persister) Option {
	return func(e *Engine) { e.persister = p }
}

// NewEngine creates a sync engine that embeds with provider.
func NewEngine(provider embedding.Provider, opts ...Option) *Engine {
	e := &Engine{provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Synchronize reconciles current with candidates. When removeMissing is set,
// items whose ids are absent from candidates are removed.
//
// current is never modified. On success the returned store is the new state:
// current itself when nothing changed, otherwise a new store that has been
// persisted (when a persister is configured). On error current remains the
// valid state and nothing was written.
func (e *Engine) Synchronize(ctx context.Context, current *store.Store, candidates []models.Candidate, removeMissing bool) (*store.Store, *models.SyncResult, error) {
	start := time.Now()
	result := &models.SyncResult{
		RunID:      uuid.New().String(),
		Considered: len(candidates),
		Updated:    []string{},
		Removed:    []string{},
	}
	logger := e.logger.With(zap.String("run_id", result.RunID))

	records := resolve(candidates)
	changes := detect.Classify(records, current.Items())

	var removeIDs []string
	if removeMissing {
		for _, i := range changes.Removed {
			removeIDs = append(removeIDs, current.Item(i).ID)
		}
	}

	if changes.Empty() && len(removeIDs) == 0 {
		logger.Info("store up to date", zap.Int("considered", result.Considered))
		return current, result, nil
	}

	var batch store.Batch
	batch.Remove = removeIDs

	if !changes.Empty() {
		ids := make([]string, len(changes.StaleOrNew))
		inputs := make([]string, len(changes.StaleOrNew))
		for j, i := range changes.StaleOrNew {
			ids[j] = records[i].ID
			inputs[j] = records[i].Content
		}

		var (
			vecs [][]float32
			err  error
		)
		if cp, ok := e.provider.(embedding.CountingProvider); ok {
			vecs, result.TokenCounts, err = cp.EmbedBatchCounted(ctx, inputs)
		} else {
			vecs, err = e.provider.EmbedBatch(ctx, inputs)
		}
		if err != nil {
			return current, nil, e.embedError(err, ids)
		}
		if len(vecs) != len(inputs) {
			return current, nil, &errs.ProviderError{
				Provider: e.provider.Name(),
				IDs:      ids,
				Err:      errors.New("embedding count does not match input count"),
			}
		}

		embedder := e.provider.Name()
		for j, i := range changes.StaleOrNew {
			c := records[i]
			batch.Upserts = append(batch.Upserts, store.Upsert{
				Item: models.Item{
					ID:          c.ID,
					ContentHash: c.ContentHash,
					Embedder:    embedder,
					Meta:        c.Meta,
				},
				Vector: vecs[j],
			})
		}
		result.Updated = ids
	}

	next := current.Clone()
	removed, err := next.Apply(batch)
	if err != nil {
		return current, nil, err
	}
	if removed != nil {
		result.Removed = removed
	}

	if e.persister != nil {
		if err := e.persister.Save(ctx, next); err != nil {
			return current, nil, err
		}
	}

	logger.Info("store synchronized",
		zap.Int("considered", result.Considered),
		zap.Int("updated", len(result.Updated)),
		zap.Int("removed", len(result.Removed)),
		zap.Int("items", next.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return next, result, nil
}

// resolve returns immutable copies of candidates with their content hashes
// filled in. The caller's slice and maps are not touched.
func resolve(candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(candidates))
	for i, c := range candidates {
		r := c
		if r.ContentHash == "" {
			r.ContentHash = contentid.HashString(c.Content)
		}
		if c.Meta != nil {
			r.Meta = make(map[string]any, len(c.Meta))
			for k, v := range c.Meta {
				r.Meta[k] = v
			}
		}
		out[i] = r
	}
	return out
}

// embedError attaches candidate ids to provider failures.
func (e *Engine) embedError(err error, ids []string) error {
	var ce *errs.CapacityError
	if errors.As(err, &ce) {
		named := *ce
		named.IDs = make([]string, 0, len(ce.Indices))
		for _, i := range ce.Indices {
			if i >= 0 && i < len(ids) {
				named.IDs = append(named.IDs, ids[i])
			}
		}
		e.logger.Warn("sync rejected: inputs over capacity", zap.Strings("ids", named.IDs), zap.Int("limit", ce.Limit))
		return &named
	}

	var pe *errs.ProviderError
	if errors.As(err, &pe) {
		named := *pe
		if named.IDs == nil {
			named.IDs = ids
		}
		return &named
	}
	return &errs.ProviderError{Provider: e.provider.Name(), IDs: ids, Err: err}
}
