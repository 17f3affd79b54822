package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, config.DefaultStoreFile)
	cfg.Ingest.Root = dir
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = 16
	cfg.Search.MaxCount = 10
	return cfg, dir
}

func openSession(t *testing.T, cfg *config.Config, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithProvider(embedding.NewMockProvider(16))}, opts...)
	s, err := Open(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestSession_SyncAndQueryFiles(t *testing.T) {
	cfg, dir := testConfig(t)
	write(t, dir, "apples.txt", "apples are red")
	write(t, dir, "sky.txt", "the sky is blue")
	s := openSession(t, cfg)
	ctx := context.Background()

	res, err := s.Sync(ctx, &models.SyncRequest{Chunked: boolPtr(false)})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := sorted(res.Updated); len(got) != 2 || got[0] != "apples.txt" || got[1] != "sky.txt" {
		t.Errorf("Updated = %v", res.Updated)
	}
	if _, err := os.Stat(cfg.Store.Path); err != nil {
		t.Fatalf("store not persisted: %v", err)
	}

	resp, err := s.Query(ctx, &models.QueryRequest{Prompt: "the sky is blue"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("results = %+v", resp.Results)
	}
	top := resp.Results[0]
	if top.ID != "sky.txt" || top.Content != "the sky is blue" || top.Stale {
		t.Errorf("top = %+v", top)
	}

	// Unchanged files are not re-embedded.
	again, err := s.Sync(ctx, &models.SyncRequest{Chunked: boolPtr(false)})
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if again.Changed() {
		t.Errorf("second sync changed the store: %+v", again)
	}
}

func TestSession_ChunkedSyncAndRemoveMissing(t *testing.T) {
	cfg, dir := testConfig(t)
	write(t, dir, "a.md", "first\n\nsecond")
	write(t, dir, "b.md", "other")
	s := openSession(t, cfg)
	ctx := context.Background()

	if _, err := s.Sync(ctx, &models.SyncRequest{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := s.Store().Len(); got != 3 {
		t.Fatalf("items = %d, want 3", got)
	}

	if err := os.Remove(filepath.Join(dir, "b.md")); err != nil {
		t.Fatal(err)
	}
	res, err := s.Sync(ctx, &models.SyncRequest{RemoveMissing: true})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != "b.md:1" {
		t.Errorf("Removed = %v", res.Removed)
	}
	if err := s.Store().Check(); err != nil {
		t.Errorf("store invariants: %v", err)
	}
	if s.Store().Len() != 2 {
		t.Errorf("items = %d, want 2", s.Store().Len())
	}
}

func TestSession_ReopenReattachesFromDisk(t *testing.T) {
	cfg, dir := testConfig(t)
	write(t, dir, "note.txt", "remember the milk")
	ctx := context.Background()

	s, err := Open(ctx, cfg, WithProvider(embedding.NewMockProvider(16)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sync(ctx, &models.SyncRequest{Chunked: boolPtr(false)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openSession(t, cfg)
	if reopened.Store().Len() != 1 {
		t.Fatalf("reopened items = %d", reopened.Store().Len())
	}
	write(t, dir, "note.txt", "remember the bread")
	resp, err := reopened.Query(ctx, &models.QueryRequest{Prompt: "remember the milk"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("results = %+v", resp.Results)
	}
	if got := resp.Results[0]; got.Content != "remember the bread" || !got.Stale {
		t.Errorf("result = %+v, want stale content from disk", got)
	}
}

func TestSession_ExplicitItems(t *testing.T) {
	cfg, _ := testConfig(t)
	s := openSession(t, cfg)
	ctx := context.Background()

	items := []models.Candidate{
		{ID: "doc:1", Content: "go channels", Meta: map[string]any{"type": "note"}},
		{ID: "doc:2", Content: "rust lifetimes", Meta: map[string]any{"type": "note"}},
		{ID: "web:1", Content: "go channels", Meta: map[string]any{"type": "page"}},
	}
	if _, err := s.Sync(ctx, &models.SyncRequest{Items: items}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	resp, err := s.Query(ctx, &models.QueryRequest{
		Prompt: "go channels",
		Count:  5,
		Filter: &models.Filter{Type: "page"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "web:1" || resp.Results[0].Content != "go channels" {
		t.Errorf("filtered results = %+v", resp.Results)
	}

	resp, err = s.Query(ctx, &models.QueryRequest{Prompt: "go channels", Count: 2, WithContent: boolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	// Equal scores rank by store order.
	if len(resp.Results) != 2 || resp.Results[0].ID != "doc:1" || resp.Results[1].ID != "web:1" {
		t.Errorf("results = %+v", resp.Results)
	}
	for _, r := range resp.Results {
		if r.Content != "" {
			t.Errorf("%s carries content", r.ID)
		}
	}
}

func TestSession_QueryCountCappedAndThreshold(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Search.MaxCount = 2
	s := openSession(t, cfg)
	ctx := context.Background()

	var items []models.Candidate
	for _, c := range []string{"one", "two", "three", "four"} {
		items = append(items, models.Candidate{ID: c, Content: c})
	}
	if _, err := s.Sync(ctx, &models.SyncRequest{Items: items}); err != nil {
		t.Fatal(err)
	}
	resp, err := s.Query(ctx, &models.QueryRequest{Prompt: "one", Count: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 {
		t.Errorf("results = %d, want 2", len(resp.Results))
	}

	threshold := 0.999
	resp, err = s.Query(ctx, &models.QueryRequest{Prompt: "one", Count: 2, Threshold: &threshold})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "one" {
		t.Errorf("thresholded results = %+v", resp.Results)
	}
}

func TestSession_Run(t *testing.T) {
	cfg, dir := testConfig(t)
	write(t, dir, "x.txt", "hello world")
	s := openSession(t, cfg)
	ctx := context.Background()

	var syncReq models.Request
	if err := json.Unmarshal([]byte(`{"kind":"sync","chunked":false}`), &syncReq); err != nil {
		t.Fatal(err)
	}
	out, err := s.Run(ctx, &syncReq)
	if err != nil {
		t.Fatalf("Run sync: %v", err)
	}
	if sr, ok := out.(*models.SyncResult); !ok || len(sr.Updated) != 1 {
		t.Errorf("sync result = %#v", out)
	}

	var queryReq models.Request
	if err := json.Unmarshal([]byte(`{"kind":"query","prompt":"hello world","count":1}`), &queryReq); err != nil {
		t.Fatal(err)
	}
	out, err = s.Run(ctx, &queryReq)
	if err != nil {
		t.Fatalf("Run query: %v", err)
	}
	if qr, ok := out.(*models.QueryResponse); !ok || len(qr.Results) != 1 || qr.Results[0].ID != "x.txt" {
		t.Errorf("query result = %#v", out)
	}
}

func TestSession_ValidationErrors(t *testing.T) {
	cfg, dir := testConfig(t)
	s := openSession(t, cfg)
	ctx := context.Background()

	var ve *errs.ValidationError
	if _, err := s.Query(ctx, &models.QueryRequest{Prompt: "  "}); !errors.As(err, &ve) {
		t.Errorf("blank prompt: err = %v", err)
	}
	other := filepath.Join(dir, "other.json")
	if _, err := s.Sync(ctx, &models.SyncRequest{StorePath: other}); !errors.As(err, &ve) || ve.Field != "store_path" {
		t.Errorf("foreign store path: err = %v", err)
	}
	if _, err := s.Sync(ctx, &models.SyncRequest{StorePath: cfg.Store.Path, Glob: "[bad"}); !errors.As(err, &ve) {
		t.Errorf("bad glob: err = %v", err)
	}
	if _, err := s.Run(ctx, &models.Request{Kind: "delete"}); !errors.As(err, &ve) {
		t.Errorf("unknown kind: err = %v", err)
	}
}

func TestSession_GetAndStatus(t *testing.T) {
	cfg, _ := testConfig(t)
	s := openSession(t, cfg)
	ctx := context.Background()

	if _, err := s.Sync(ctx, &models.SyncRequest{Items: []models.Candidate{{ID: "a", Content: "alpha"}}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "alpha" || got.Embedder != "mock_16" {
		t.Errorf("Get = %+v", got)
	}
	if _, err := s.Get("missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}

	st := s.Status()
	if st.Items != 1 || st.Dimensions != 16 || st.Backend != "json" || st.Embedder != "mock_16" {
		t.Errorf("Status = %+v", st)
	}
	if st.DiskBytes <= 0 || st.CachedText != 1 {
		t.Errorf("Status = %+v", st)
	}
}

type brokenProvider struct{}

func (brokenProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("service unavailable")
}
func (brokenProvider) Name() string { return "broken" }
func (brokenProvider) Close() error { return nil }

func TestSession_ProviderFailureKeepsState(t *testing.T) {
	cfg, _ := testConfig(t)
	s, err := Open(context.Background(), cfg, WithProvider(brokenProvider{}))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	_, err = s.Sync(context.Background(), &models.SyncRequest{Items: []models.Candidate{{ID: "a", Content: "alpha"}}})
	var pe *errs.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if s.Store().Len() != 0 {
		t.Error("failed sync must not change the store")
	}
	if _, statErr := os.Stat(cfg.Store.Path); !os.IsNotExist(statErr) {
		t.Error("failed sync must not write the store")
	}
}

func TestSession_SQLiteBackend(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = filepath.Join(dir, "store.db")
	ctx := context.Background()

	s, err := Open(ctx, cfg, WithProvider(embedding.NewMockProvider(16)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sync(ctx, &models.SyncRequest{Items: []models.Candidate{{ID: "a", Content: "alpha"}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openSession(t, cfg)
	if reopened.Store().Len() != 1 || reopened.Status().Backend != "sqlite" {
		t.Errorf("reopened status = %+v", reopened.Status())
	}
}

func TestSession_OpenWithConfiguredProvider(t *testing.T) {
	cfg, _ := testConfig(t)
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if got := s.Status().Embedder; got != "mock_16" {
		t.Errorf("embedder = %q", got)
	}
}

// switchProvider embeds with a mock provider until fail is set.
type switchProvider struct {
	*embedding.MockProvider
	fail bool
}

func (p *switchProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if p.fail {
		return nil, errors.New("service unavailable")
	}
	return p.MockProvider.EmbedBatch(ctx, inputs)
}

func TestSession_FailedFileSyncKeepsContentCache(t *testing.T) {
	cfg, dir := testConfig(t)
	write(t, dir, "a.txt", "alpha")
	write(t, dir, "b.txt", "beta")
	p := &switchProvider{MockProvider: embedding.NewMockProvider(16)}
	s := openSession(t, cfg, WithProvider(p))
	ctx := context.Background()

	if _, err := s.Sync(ctx, &models.SyncRequest{Chunked: boolPtr(false)}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := s.Status().CachedText; got != 2 {
		t.Fatalf("CachedText = %d, want 2", got)
	}

	write(t, dir, "a.txt", "alpha edited")
	p.fail = true
	if _, err := s.Sync(ctx, &models.SyncRequest{Chunked: boolPtr(false)}); err == nil {
		t.Fatal("expected provider failure")
	}
	if got := s.Status().CachedText; got != 2 {
		t.Errorf("CachedText after failed sync = %d, want 2", got)
	}
	got, err := s.Get("b.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "beta" || got.Stale {
		t.Errorf("Get = %+v", got)
	}

	p.fail = false
	if err := os.Remove(filepath.Join(dir, "b.txt")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sync(ctx, &models.SyncRequest{Chunked: boolPtr(false), RemoveMissing: true}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := s.Status().CachedText; got != 1 {
		t.Errorf("CachedText after successful sync = %d, want 1", got)
	}
}

func TestSession_RejectsItemIDsOutsideStoreDir(t *testing.T) {
	cfg, dir := testConfig(t)
	write(t, filepath.Dir(dir), "kioku-secret.txt", "TOP SECRET")
	s := openSession(t, cfg)

	_, err := s.Sync(context.Background(), &models.SyncRequest{Items: []models.Candidate{
		{ID: "../kioku-secret.txt", Content: "harmless", Meta: map[string]any{"type": "file"}},
	}})
	var ve *errs.ValidationError
	if !errors.As(err, &ve) || ve.Field != "items" {
		t.Fatalf("err = %v, want ValidationError on items", err)
	}
	if s.Store().Len() != 0 {
		t.Error("rejected sync must not change the store")
	}
	if _, err := s.Get("../kioku-secret.txt"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get: err = %v, want ErrNotFound", err)
	}
}

func TestSession_EmptiedStoreKeepsDimensionAcrossReopen(t *testing.T) {
	cfg, _ := testConfig(t)
	ctx := context.Background()
	s, err := Open(ctx, cfg, WithProvider(embedding.NewMockProvider(16)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sync(ctx, &models.SyncRequest{Items: []models.Candidate{{ID: "a", Content: "alpha"}}}); err != nil {
		t.Fatal(err)
	}
	// The store directory holds no visible files, so a file sync removes
	// every item.
	res, err := s.Sync(ctx, &models.SyncRequest{RemoveMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Removed) != 1 || s.Store().Len() != 0 || s.Store().Dimensions() != 16 {
		t.Fatalf("after emptying: removed=%v len=%d dims=%d", res.Removed, s.Store().Len(), s.Store().Dimensions())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openSession(t, cfg)
	if got := reopened.Store().Dimensions(); got != 16 {
		t.Errorf("Dimensions after reopen = %d, want 16", got)
	}
	_, err = reopened.Sync(ctx, &models.SyncRequest{Items: []models.Candidate{{ID: "c", Content: "gamma"}}})
	if err != nil {
		t.Fatalf("Sync after reopen: %v", err)
	}
}
