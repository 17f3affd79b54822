package models

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kioku/internal/errs"
)

// Request kinds.
const (
	KindSync  = "sync"
	KindQuery = "query"
)

// Request is a tagged request: exactly one of Sync and Query is set,
// according to Kind.
type Request struct {
	Kind  string
	Sync  *SyncRequest
	Query *QueryRequest
}

// SyncRequest asks for the store to be brought in line with a candidate set.
// Items, when non-empty, are used as the candidate set instead of ingesting
// files from Root.
type SyncRequest struct {
	StorePath     string      `json:"store_path,omitempty"`
	RemoveMissing bool        `json:"remove_missing,omitempty"`
	Root          string      `json:"files_ingest_root,omitempty"`
	Glob          string      `json:"files_ingest_glob,omitempty"`
	Chunked       *bool       `json:"chunked,omitempty"`
	Items         []Candidate `json:"items,omitempty"`
}

// QueryRequest asks for the items most similar to Prompt.
type QueryRequest struct {
	StorePath   string   `json:"store_path,omitempty"`
	Prompt      string   `json:"prompt"`
	Count       int      `json:"count,omitempty"`
	Threshold   *float64 `json:"threshold,omitempty"`
	Filter      *Filter  `json:"filter,omitempty"`
	WithContent *bool    `json:"with_content,omitempty"`
}

// Validate checks the request fields.
func (r *SyncRequest) Validate() error {
	seen := make(map[string]struct{}, len(r.Items))
	var dups, escaping []string
	for i, c := range r.Items {
		if c.ID == "" {
			return errs.Validation("items", "item %d has an empty id", i)
		}
		if !filepath.IsLocal(filepath.FromSlash(c.ID)) {
			escaping = append(escaping, c.ID)
		}
		if _, ok := seen[c.ID]; ok {
			dups = append(dups, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	if len(escaping) > 0 {
		return &errs.ValidationError{Field: "items", IDs: escaping, Msg: "ids must be relative paths that stay below the store directory"}
	}
	if len(dups) > 0 {
		return &errs.ValidationError{Field: "items", IDs: dups, Msg: "duplicate ids"}
	}
	return nil
}

// Validate checks the request fields.
func (r *QueryRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errs.Validation("prompt", "cannot be empty")
	}
	if r.Count < 0 {
		return errs.Validation("count", "must not be negative, got %d", r.Count)
	}
	if r.Threshold != nil && (math.IsNaN(*r.Threshold) || math.IsInf(*r.Threshold, 0)) {
		return errs.Validation("threshold", "must be a finite number")
	}
	return nil
}

// ApplyDefaults sets Count to def when unset and caps it at max.
func (r *QueryRequest) ApplyDefaults(def, max int) {
	if r.Count == 0 {
		r.Count = def
	}
	if max > 0 && r.Count > max {
		r.Count = max
	}
}

// Validate checks that the variant matches Kind and validates it.
func (r *Request) Validate() error {
	switch r.Kind {
	case KindSync:
		if r.Sync == nil || r.Query != nil {
			return errs.Validation("kind", "sync request must carry only sync fields")
		}
		return r.Sync.Validate()
	case KindQuery:
		if r.Query == nil || r.Sync != nil {
			return errs.Validation("kind", "query request must carry only query fields")
		}
		return r.Query.Validate()
	default:
		return errs.Validation("kind", "unknown request kind %q", r.Kind)
	}
}

// StorePath returns the store path named by the request, if any.
func (r *Request) StorePath() string {
	switch {
	case r.Sync != nil:
		return r.Sync.StorePath
	case r.Query != nil:
		return r.Query.StorePath
	}
	return ""
}

// UnmarshalJSON decodes a flat JSON object whose "kind" field selects the
// variant.
func (r *Request) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	*r = Request{Kind: head.Kind}
	switch head.Kind {
	case KindQuery:
		var q QueryRequest
		if err := json.Unmarshal(data, &q); err != nil {
			return fmt.Errorf("decode query request: %w", err)
		}
		r.Query = &q
	case KindSync:
		var s SyncRequest
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode sync request: %w", err)
		}
		r.Sync = &s
	case "":
		return errs.Validation("kind", "missing request kind, want %q or %q", KindSync, KindQuery)
	default:
		return errs.Validation("kind", "unknown request kind %q", head.Kind)
	}
	return nil
}

// MarshalJSON encodes the request as a flat object tagged with "kind".
func (r Request) MarshalJSON() ([]byte, error) {
	var body any
	switch r.Kind {
	case KindQuery:
		body = struct {
			Kind string `json:"kind"`
			*QueryRequest
		}{r.Kind, r.Query}
	case KindSync:
		body = struct {
			Kind string `json:"kind"`
			*SyncRequest
		}{r.Kind, r.Sync}
	default:
		return nil, errs.Validation("kind", "unknown request kind %q", r.Kind)
	}
	return json.Marshal(body)
}
