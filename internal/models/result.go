package models

// Scored is a ranked store entry. Index is the item's position in the store
// at query time.
type Scored struct {
	Item  Item
	Index int
	Score float64
}

// Result is a query hit as returned to callers. Content is attached when it
// could be recovered; Stale marks content whose hash no longer matches the
// stored item.
type Result struct {
	Item
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content,omitempty"`
	Stale      bool    `json:"stale,omitempty"`
}

// SyncResult summarizes a sync.
type SyncResult struct {
	RunID       string   `json:"run_id"`
	Considered  int      `json:"considered"`
	Updated     []string `json:"updated"`
	Removed     []string `json:"removed"`
	TokenCounts []int    `json:"token_counts,omitempty"`
	Skipped     []string `json:"skipped,omitempty"`
}

// Changed reports whether the sync mutated the store.
func (r *SyncResult) Changed() bool {
	return len(r.Updated) > 0 || len(r.Removed) > 0
}

// QueryResponse is the response for a query request.
type QueryResponse struct {
	Prompt    string   `json:"prompt"`
	Results   []Result `json:"results"`
	QueryTime int64    `json:"query_time_ms"`
}

// Status describes the store held by a session.
type Status struct {
	StorePath  string `json:"store_path"`
	Backend    string `json:"backend"`
	Items      int    `json:"items"`
	Dimensions int    `json:"dimensions"`
	Embedder   string `json:"embedder"`
	DiskBytes  int64  `json:"disk_bytes"`
	CachedText int    `json:"cached_contents"`
}
