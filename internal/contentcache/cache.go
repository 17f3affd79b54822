// Package contentcache holds the text behind stored items, keyed by content
// hash, so query results can carry their content without re-reading files.
package contentcache

import (
	"sync"

	"github.com/hyperjump/kioku/internal/contentid"
	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// Source reads the current content of a stored item, typically from disk.
type Source interface {
	ReadItem(it models.Item) (string, error)
}

// Cache maps content hashes to content. It is owned by a session and lives
// as long as the session chooses; Reset starts a new ingestion pass.
type Cache struct {
	mu      sync.Mutex
	entries map[string]string
	logger  *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for fallback reads.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New returns an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]string),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Put stores content and returns its hash.
func (c *Cache) Put(content string) string {
	h := contentid.HashString(content)
	c.mu.Lock()
	c.entries[h] = content
	c.mu.Unlock()
	return h
}

// Get returns the content cached for hash.
func (c *Cache) Get(hash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[hash]
	return s, ok
}

// Len returns the number of cached contents.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset drops every cached content.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]string)
	c.mu.Unlock()
}

// Reattach converts scored entries into results carrying their content.
// Cached content is used when present; otherwise src, when non-nil, is asked
// and a content whose hash differs from the stored one is attached as stale.
// Entries whose content cannot be recovered are returned without it.
func (c *Cache) Reattach(scored []models.Scored, src Source) []models.Result {
	out := make([]models.Result, len(scored))
	for i, s := range scored {
		out[i] = models.Result{Item: s.Item, Similarity: s.Score}
		if content, ok := c.Get(s.Item.ContentHash); ok {
			out[i].Content = content
			continue
		}
		if src == nil {
			continue
		}
		content, err := src.ReadItem(s.Item)
		if err != nil {
			c.logger.Debug("content not recovered", zap.String("id", s.Item.ID), zap.Error(err))
			continue
		}
		h := c.Put(content)
		out[i].Content = content
		out[i].Stale = h != s.Item.ContentHash
	}
	return out
}
