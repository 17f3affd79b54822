// Package search ranks stored items against a query vector by exact linear
// scan.
package search

import (
	"math"
	"sort"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Predicate decides whether a ranked item is returned. Rejected items do not
// count towards TopK.
type Predicate func(item models.Item, score float64) bool

// Options control a query.
type Options struct {
	TopK      int
	Predicate Predicate
	Threshold *float64 // minimum score, inclusive
	Cosine    bool     // normalize both sides at scoring time
}

// Matrix is the read view of a store that ranking needs.
type Matrix interface {
	Len() int
	Dimensions() int
	Item(i int) models.Item
	Vector(i int) []float32
}

// Query ranks every row of m against query and returns at most TopK
// accepted items. Ranking is by score descending; equal scores rank by
// ascending store index.
func Query(query []float32, m Matrix, opts Options) ([]models.Scored, error) {
	if m.Len() == 0 || opts.TopK <= 0 {
		return []models.Scored{}, nil
	}
	if len(query) != m.Dimensions() {
		return nil, errs.Validation("query", "vector has dimension %d, store has %d", len(query), m.Dimensions())
	}

	ranked := Rank(query, m, opts.Cosine)

	out := make([]models.Scored, 0, min(opts.TopK, len(ranked)))
	for _, r := range ranked {
		if opts.Threshold != nil && r.Score < *opts.Threshold {
			break
		}
		if opts.Predicate != nil && !opts.Predicate(r.Item, r.Score) {
			continue
		}
		out = append(out, r)
		if len(out) >= opts.TopK {
			break
		}
	}
	return out, nil
}

// Rank scores every row of m and returns them in rank order.
func Rank(query []float32, m Matrix, cosine bool) []models.Scored {
	q := query
	if cosine {
		q = utils.Normalized(query)
	}

	ranked := make([]models.Scored, m.Len())
	for i := range ranked {
		ranked[i] = models.Scored{Item: m.Item(i), Index: i, Score: score(q, m.Vector(i), cosine)}
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].Score != ranked[b].Score {
			return ranked[a].Score > ranked[b].Score
		}
		return ranked[a].Index < ranked[b].Index
	})
	return ranked
}

func score(q, row []float32, cosine bool) float64 {
	s := utils.Dot(q, row)
	if cosine {
		var norm float64
		for _, v := range row {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			return 0
		}
		s /= math.Sqrt(norm)
	}
	if math.IsNaN(s) {
		return math.Inf(-1)
	}
	return s
}
