// Package models defines the items held by the store, the candidates offered
// to a sync, and the requests and results exchanged with callers.
package models

import "strings"

// Meta type tags written by the ingester.
const (
	MetaTypeFile  = "file"
	MetaTypeChunk = "chunk"
)

// Item is one stored entity. Items are values: a sync replaces an item with a
// new record rather than mutating it.
type Item struct {
	ID          string         `json:"id"`
	ContentHash string         `json:"content_hash"`
	Embedder    string         `json:"embedder"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Type returns meta["type"], or "" when unset.
func (it Item) Type() string {
	return it.metaString("type")
}

// Path returns meta["path"], the source file of a chunk item.
func (it Item) Path() string {
	return it.metaString("path")
}

func (it Item) metaString(key string) string {
	if it.Meta == nil {
		return ""
	}
	s, _ := it.Meta[key].(string)
	return s
}

// Clone returns a copy of it that shares nothing mutable with it.
func (it Item) Clone() Item {
	out := it
	if it.Meta != nil {
		out.Meta = make(map[string]any, len(it.Meta))
		for k, v := range it.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// Candidate is an entity offered to a sync. ContentHash is computed from
// Content when empty.
type Candidate struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	ContentHash string         `json:"content_hash,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Filter restricts query results. Zero fields match everything.
type Filter struct {
	Type     string `json:"type,omitempty"`
	IDPrefix string `json:"id_prefix,omitempty"`
}

// Match reports whether it passes the filter.
func (f *Filter) Match(it Item) bool {
	if f == nil {
		return true
	}
	if f.Type != "" && it.Type() != f.Type {
		return false
	}
	if f.IDPrefix != "" && !strings.HasPrefix(it.ID, f.IDPrefix) {
		return false
	}
	return true
}
