// Package session wires a store, its persister, an embedding provider and a
// content cache together and serves sync and query requests against them.
// One Session owns one store; every request runs under the session lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/contentcache"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/store"
	"github.com/hyperjump/kioku/internal/syncer"
)

// Session serves requests against one persisted store.
type Session struct {
	mu sync.Mutex

	cfg       *config.Config
	persister store.Persister
	current   *store.Store
	provider  embedding.Provider
	queries   *embedding.CachedProvider
	syncer    *syncer.Engine
	search    *search.Engine
	contents  *contentcache.Cache
	ingester  *ingest.Ingester
	logger    *zap.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger shared by the session's components.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithProvider uses p instead of the provider named by the config.
func WithProvider(p embedding.Provider) Option {
	return func(s *Session) { s.provider = p }
}

// WithPersister uses p instead of the persister named by the config.
func WithPersister(p store.Persister) Option {
	return func(s *Session) { s.persister = p }
}

// Open loads the store named by cfg and returns a session serving it. A
// missing store file starts an empty store.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	s := &Session{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	if s.persister == nil {
		p, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s.persister = p
	}
	current, err := s.persister.Load(ctx)
	if err != nil {
		_ = s.persister.Close()
		return nil, err
	}
	s.current = current

	if s.provider == nil {
		p, err := embedding.New(cfg.Embedding, s.logger)
		if err != nil {
			_ = s.persister.Close()
			return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
		}
		s.provider = p
	}
	for _, tag := range current.Embedders() {
		if tag != s.provider.Name() {
			s.logger.Warn("store holds vectors from another embedder; changed items will be re-embedded with the current one",
				zap.String("stored", tag), zap.String("current", s.provider.Name()))
		}
	}

	storeDir := filepath.Dir(s.persister.Path())
	s.contents = contentcache.New(contentcache.WithLogger(s.logger))
	s.ingester = ingest.New(storeDir,
		ingest.WithExtensions(cfg.Ingest.Extensions),
		ingest.WithExclude(store.Files(s.persister.Path())...),
		ingest.WithReadRoots(cfg.Ingest.Root),
		ingest.WithLogger(s.logger))

	s.queries = embedding.NewCachedProvider(s.provider, cfg.Embedding.CacheSize)
	s.syncer = syncer.NewEngine(s.provider,
		syncer.WithPersister(s.persister),
		syncer.WithLogger(s.logger))
	s.search = search.NewEngine(s.queries, search.WithLogger(s.logger))

	s.logger.Info("store opened",
		zap.String("path", s.persister.Path()),
		zap.String("backend", s.persister.Backend()),
		zap.Int("items", current.Len()),
		zap.String("embedder", s.provider.Name()))
	return s, nil
}

// Store returns the current store state. The returned store must not be
// modified.
func (s *Session) Store() *store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Run validates req and dispatches it. The result is a *models.SyncResult or
// a *models.QueryResponse.
func (s *Session) Run(ctx context.Context, req *models.Request) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	switch req.Kind {
	case models.KindSync:
		return s.Sync(ctx, req.Sync)
	default:
		return s.Query(ctx, req.Query)
	}
}

// Sync brings the store in line with the request's candidates: its explicit
// items, or else the files matched below the ingest root.
func (s *Session) Sync(ctx context.Context, req *models.SyncRequest) (*models.SyncResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkStorePath(req.StorePath); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		candidates []models.Candidate
		skipped    []string
		fresh      *contentcache.Cache
	)
	if len(req.Items) > 0 {
		candidates = make([]models.Candidate, len(req.Items))
		for i, c := range req.Items {
			candidates[i] = c
			h := s.contents.Put(c.Content)
			if candidates[i].ContentHash == "" {
				candidates[i].ContentHash = h
			}
		}
	} else {
		params := ingest.Params{
			Root:    s.cfg.Ingest.Root,
			Glob:    s.cfg.Ingest.Glob,
			Chunked: s.cfg.Ingest.ChunkedOrDefault(),
		}
		if req.Root != "" {
			params.Root = req.Root
		}
		if req.Glob != "" {
			params.Glob = req.Glob
		}
		if req.Chunked != nil {
			params.Chunked = *req.Chunked
		}
		// A file ingestion pass fills a fresh content cache that replaces the
		// current one once the sync succeeds.
		fresh = contentcache.New(contentcache.WithLogger(s.logger))
		params.Sink = fresh
		res, err := s.ingester.Collect(ctx, params)
		if err != nil {
			return nil, err
		}
		candidates = res.Candidates
		skipped = res.Skipped
	}

	next, result, err := s.syncer.Synchronize(ctx, s.current, candidates, req.RemoveMissing)
	if err != nil {
		return nil, err
	}
	s.current = next
	if fresh != nil {
		s.contents = fresh
	}
	result.Skipped = skipped
	return result, nil
}

// Query returns the stored items most similar to the prompt.
func (s *Session) Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkStorePath(req.StorePath); err != nil {
		return nil, err
	}
	q := *req
	q.ApplyDefaults(s.cfg.Search.DefaultCount, s.cfg.Search.MaxCount)
	opts := search.Options{
		TopK:      q.Count,
		Threshold: s.cfg.Search.Threshold,
		Cosine:    s.cfg.Search.Cosine,
	}
	if q.Threshold != nil {
		opts.Threshold = q.Threshold
	}
	if q.Filter != nil {
		f := *q.Filter
		opts.Predicate = func(it models.Item, _ float64) bool { return f.Match(it) }
	}
	withContent := s.cfg.Search.WithContentOrDefault()
	if q.WithContent != nil {
		withContent = *q.WithContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	scored, err := s.search.Search(ctx, s.current, q.Prompt, opts)
	if err != nil {
		return nil, err
	}
	var results []models.Result
	if withContent {
		results = s.contents.Reattach(scored, s.ingester)
	} else {
		results = make([]models.Result, len(scored))
		for i, sc := range scored {
			results[i] = models.Result{Item: sc.Item, Similarity: sc.Score}
		}
	}
	return &models.QueryResponse{
		Prompt:    q.Prompt,
		Results:   results,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// Get returns the stored item with the given id and its content, when it
// can be recovered.
func (s *Session) Get(id string) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, _, err := s.current.Get(id)
	if err != nil {
		return nil, err
	}
	res := s.contents.Reattach([]models.Scored{{Item: it}}, s.ingester)
	return &res[0], nil
}

// Status describes the store and the session's caches.
func (s *Session) Status() *models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &models.Status{
		StorePath:  s.persister.Path(),
		Backend:    s.persister.Backend(),
		Items:      s.current.Len(),
		Dimensions: s.current.Dimensions(),
		Embedder:   s.provider.Name(),
		CachedText: s.contents.Len(),
	}
	if n, err := s.persister.DiskUsage(); err == nil {
		st.DiskBytes = n
	}
	return st
}

// Close releases the provider and the persister.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.provider.Close(), s.persister.Close())
}

// checkStorePath rejects requests addressed to a store other than the one
// this session serves.
func (s *Session) checkStorePath(path string) error {
	if path == "" {
		return nil
	}
	want, err := filepath.Abs(s.persister.Path())
	if err != nil {
		return fmt.Errorf("resolve store path: %w", err)
	}
	got, err := filepath.Abs(path)
	if err != nil {
		return errs.Validation("store_path", "%v", err)
	}
	if got != want {
		return errs.Validation("store_path", "session serves %s, not %s", want, got)
	}
	return nil
}
