// Package detect classifies sync candidates against the items already held by
// a store.
package detect

import "github.com/hyperjump/kioku/internal/models"

// Changes is the result of Classify. StaleOrNew and Unchanged index the
// candidate slice; Removed indexes the existing items. The three sets are
// disjoint.
type Changes struct {
	StaleOrNew []int
	Unchanged  []int
	Removed    []int
}

// Empty reports whether no candidate needs embedding.
func (c Changes) Empty() bool {
	return len(c.StaleOrNew) == 0
}

// Classify compares candidates with existing items by id and content hash.
// Candidates must carry their content hash. When an id appears more than once
// among candidates the last occurrence wins and earlier ones are ignored.
func Classify(candidates []models.Candidate, existing []models.Item) Changes {
	hashes := make(map[string]string, len(existing))
	for _, it := range existing {
		hashes[it.ID] = it.ContentHash
	}

	last := make(map[string]int, len(candidates))
	for i, c := range candidates {
		last[c.ID] = i
	}

	var ch Changes
	for i, c := range candidates {
		if last[c.ID] != i {
			continue
		}
		if h, ok := hashes[c.ID]; ok && h == c.ContentHash {
			ch.Unchanged = append(ch.Unchanged, i)
			continue
		}
		ch.StaleOrNew = append(ch.StaleOrNew, i)
	}

	for i, it := range existing {
		if _, ok := last[it.ID]; !ok {
			ch.Removed = append(ch.Removed, i)
		}
	}
	return ch
}
