package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/session"
)

type stubService struct {
	err     error
	lastRun *models.Request
}

func (s *stubService) Sync(context.Context, *models.SyncRequest) (*models.SyncResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.SyncResult{RunID: "run", Updated: []string{"a"}, Removed: []string{}}, nil
}

func (s *stubService) Query(_ context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.QueryResponse{Prompt: req.Prompt, Results: []models.Result{}}, nil
}

func (s *stubService) Run(_ context.Context, req *models.Request) (any, error) {
	s.lastRun = req
	if s.err != nil {
		return nil, s.err
	}
	return map[string]string{"kind": req.Kind}, nil
}

func (s *stubService) Get(id string) (*models.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Result{Item: models.Item{ID: id}}, nil
}

func (s *stubService) Status() *models.Status {
	return &models.Status{Items: 3, Backend: "json"}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		ids    []string
	}{
		{"validation", &errs.ValidationError{Field: "items", IDs: []string{"x"}, Msg: "duplicate ids"}, http.StatusBadRequest, []string{"x"}},
		{"capacity", &errs.CapacityError{IDs: []string{"big"}, Indices: []int{0}, Limit: 8192}, http.StatusRequestEntityTooLarge, []string{"big"}},
		{"provider", &errs.ProviderError{Provider: "openai", IDs: []string{"a", "b"}, Err: errors.New("503")}, http.StatusBadGateway, []string{"a", "b"}},
		{"persistence", &errs.PersistenceError{Op: "save store", Path: "/x", Err: errors.New("disk full")}, http.StatusInternalServerError, nil},
		{"not found", errs.ErrNotFound, http.StatusNotFound, nil},
		{"other", errors.New("boom"), http.StatusInternalServerError, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(&stubService{err: tt.err}, &config.ServerConfig{}, nil).Handler()
			w := do(t, h, http.MethodPost, "/api/v1/sync", `{}`)
			assert.Equal(t, tt.status, w.Code)

			var body errorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.ids, body.IDs)
		})
	}
}

func TestHandleRequest_tagged(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, &config.ServerConfig{}, nil).Handler()

	w := do(t, h, http.MethodPost, "/api/v1/requests", `{"kind":"query","prompt":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastRun)
	assert.Equal(t, models.KindQuery, svc.lastRun.Kind)
	assert.Equal(t, "hi", svc.lastRun.Query.Prompt)

	w = do(t, h, http.MethodPost, "/api/v1/requests", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "kind")

	w = do(t, h, http.MethodPost, "/api/v1/query", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetItem_idWithSlashes(t *testing.T) {
	h := NewServer(&stubService{}, &config.ServerConfig{}, nil).Handler()
	w := do(t, h, http.MethodGet, "/api/v1/items/docs/guide.md:12", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res models.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "docs/guide.md:12", res.ID)
}

func TestHandleHealthAndStatus(t *testing.T) {
	h := NewServer(&stubService{}, &config.ServerConfig{}, nil).Handler()

	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st models.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, 3, st.Items)
}

func TestServer_withSession(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.md"), []byte("install with go install"), 0644))

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, config.DefaultStoreFile)
	cfg.Ingest.Root = dir
	sess, err := session.Open(context.Background(), cfg, session.WithProvider(embedding.NewMockProvider(8)))
	require.NoError(t, err)
	defer sess.Close()

	ts := httptest.NewServer(NewServer(sess, &cfg.Server, nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/sync", "application/json", strings.NewReader(`{"chunked":false}`))
	require.NoError(t, err)
	var sr models.SyncResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"guide.md"}, sr.Updated)

	resp, err = http.Post(ts.URL+"/api/v1/query", "application/json", strings.NewReader(`{"prompt":"install with go install"}`))
	require.NoError(t, err)
	var qr models.QueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&qr))
	resp.Body.Close()
	require.Len(t, qr.Results, 1)
	assert.Equal(t, "guide.md", qr.Results[0].ID)
	assert.Equal(t, "install with go install", qr.Results[0].Content)

	resp, err = http.Get(ts.URL + "/api/v1/items/missing.md")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
