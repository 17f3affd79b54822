// Package store holds the items and their embedding vectors as two
// index-aligned sequences, and persists them.
//
// Row i of the vector matrix is the embedding of item i. Every mutation goes
// through Apply, which validates the whole batch before touching either
// sequence, so a rejected batch leaves the store exactly as it was.
package store

import (
	"fmt"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
)

// Store is the in-memory content store. It is not safe for concurrent use;
// callers serialize access.
type Store struct {
	dimensions int
	items      []models.Item
	vectors    [][]float32
	index      map[string]int
}

// Upsert inserts Item or replaces the item with the same id.
type Upsert struct {
	Item   models.Item
	Vector []float32
}

// Batch is a set of changes applied atomically by Apply. Removals are applied
// before upserts.
type Batch struct {
	Upserts []Upsert
	Remove  []string
}

// New returns an empty store. The dimension is fixed by the first vector
// inserted.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// FromRows builds a store from persisted rows, checking every invariant.
// dimensions may be 0 when unknown; it is then taken from the first row.
func FromRows(items []models.Item, vectors [][]float32, dimensions int) (*Store, error) {
	if len(items) != len(vectors) {
		return nil, fmt.Errorf("%d items but %d vectors", len(items), len(vectors))
	}
	s := New()
	s.dimensions = dimensions
	if s.dimensions == 0 && len(vectors) > 0 {
		s.dimensions = len(vectors[0])
	}
	s.items = make([]models.Item, 0, len(items))
	s.vectors = make([][]float32, 0, len(vectors))
	for i, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("item %d has an empty id", i)
		}
		if _, dup := s.index[it.ID]; dup {
			return nil, fmt.Errorf("duplicate item id %q", it.ID)
		}
		if len(vectors[i]) != s.dimensions {
			return nil, fmt.Errorf("vector %d (%s) has dimension %d, expected %d", i, it.ID, len(vectors[i]), s.dimensions)
		}
		s.index[it.ID] = i
		s.items = append(s.items, it)
		s.vectors = append(s.vectors, vectors[i])
	}
	return s, nil
}

// Clone returns a store that can be mutated without affecting s. Rows are
// shared: Apply never writes into an existing row, it replaces it.
func (s *Store) Clone() *Store {
	c := &Store{
		dimensions: s.dimensions,
		items:      make([]models.Item, len(s.items)),
		vectors:    make([][]float32, len(s.vectors)),
		index:      make(map[string]int, len(s.index)),
	}
	copy(c.items, s.items)
	copy(c.vectors, s.vectors)
	for id, i := range s.index {
		c.index[id] = i
	}
	return c
}

// Len returns the number of items.
func (s *Store) Len() int { return len(s.items) }

// Dimensions returns the vector dimension, or 0 if none has been set.
func (s *Store) Dimensions() int { return s.dimensions }

// Item returns the item at index i.
func (s *Store) Item(i int) models.Item { return s.items[i] }

// Vector returns row i of the matrix. The slice must not be modified.
func (s *Store) Vector(i int) []float32 { return s.vectors[i] }

// Items returns a copy of the item sequence.
func (s *Store) Items() []models.Item {
	out := make([]models.Item, len(s.items))
	copy(out, s.items)
	return out
}

// IndexOf returns the index of the item with the given id.
func (s *Store) IndexOf(id string) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

// Get returns the item with the given id and its vector.
func (s *Store) Get(id string) (models.Item, []float32, error) {
	i, ok := s.index[id]
	if !ok {
		return models.Item{}, nil, fmt.Errorf("%w: %s", errs.ErrNotFound, id)
	}
	return s.items[i], s.vectors[i], nil
}

// Embedders returns the distinct embedder tags in store order.
func (s *Store) Embedders() []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range s.items {
		if !seen[it.Embedder] {
			seen[it.Embedder] = true
			out = append(out, it.Embedder)
		}
	}
	return out
}

// Apply validates b and then applies it: removals first, compacting both
// sequences and rebuilding the id index, then upserts in order. It returns
// the ids actually removed, in store order. On error the store is unchanged.
func (s *Store) Apply(b Batch) ([]string, error) {
	dims, err := s.validate(b)
	if err != nil {
		return nil, err
	}
	s.dimensions = dims

	removed := s.compact(b.Remove)

	for _, u := range b.Upserts {
		vec := make([]float32, len(u.Vector))
		copy(vec, u.Vector)
		if i, ok := s.index[u.Item.ID]; ok {
			s.items[i] = u.Item
			s.vectors[i] = vec
			continue
		}
		s.index[u.Item.ID] = len(s.items)
		s.items = append(s.items, u.Item)
		s.vectors = append(s.vectors, vec)
	}
	return removed, nil
}

func (s *Store) validate(b Batch) (int, error) {
	dims := s.dimensions
	seen := make(map[string]bool, len(b.Upserts))
	var dups, bad []string
	for i, u := range b.Upserts {
		if u.Item.ID == "" {
			return 0, errs.Validation("id", "upsert %d has an empty id", i)
		}
		if seen[u.Item.ID] {
			dups = append(dups, u.Item.ID)
		}
		seen[u.Item.ID] = true
		if dims == 0 {
			dims = len(u.Vector)
		}
		if len(u.Vector) == 0 || len(u.Vector) != dims {
			bad = append(bad, u.Item.ID)
		}
	}
	if len(dups) > 0 {
		return 0, &errs.ValidationError{Field: "id", IDs: dups, Msg: "duplicate ids in batch"}
	}
	if len(bad) > 0 {
		return 0, &errs.ValidationError{
			Field: "vector",
			IDs:   bad,
			Msg:   fmt.Sprintf("dimension mismatch, expected %d", dims),
		}
	}
	return dims, nil
}

func (s *Store) compact(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	var removed []string
	items := make([]models.Item, 0, len(s.items))
	vectors := make([][]float32, 0, len(s.vectors))
	for i, it := range s.items {
		if drop[it.ID] {
			removed = append(removed, it.ID)
			continue
		}
		items = append(items, it)
		vectors = append(vectors, s.vectors[i])
	}
	if len(removed) == 0 {
		return nil
	}

	s.items = items
	s.vectors = vectors
	s.index = make(map[string]int, len(items))
	for i, it := range items {
		s.index[it.ID] = i
	}
	return removed
}

// Check verifies the alignment invariants. It is cheap enough to call after
// loading and in tests.
func (s *Store) Check() error {
	if len(s.items) != len(s.vectors) {
		return fmt.Errorf("%d items but %d vectors", len(s.items), len(s.vectors))
	}
	if len(s.index) != len(s.items) {
		return fmt.Errorf("index has %d entries for %d items", len(s.index), len(s.items))
	}
	for i, it := range s.items {
		if j, ok := s.index[it.ID]; !ok || j != i {
			return fmt.Errorf("index entry for %q is %d, want %d", it.ID, j, i)
		}
		if len(s.vectors[i]) != s.dimensions {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(s.vectors[i]), s.dimensions)
		}
	}
	return nil
}
