package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hyperjump/kioku/internal/errs"
)

func TestRequest_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantKind  string
		wantErr   bool
		checkFunc func(t *testing.T, r *Request)
	}{
		{
			name:     "tagged query",
			input:    `{"kind":"query","prompt":"hello","count":3}`,
			wantKind: KindQuery,
			checkFunc: func(t *testing.T, r *Request) {
				if r.Query.Prompt != "hello" || r.Query.Count != 3 {
					t.Errorf("got %+v", r.Query)
				}
			},
		},
		{
			name:     "tagged sync with ingest fields",
			input:    `{"kind":"sync","remove_missing":true,"store_path":".","files_ingest_root":"src","files_ingest_glob":"**/*.go"}`,
			wantKind: KindSync,
			checkFunc: func(t *testing.T, r *Request) {
				if !r.Sync.RemoveMissing {
					t.Error("RemoveMissing not set")
				}
				if r.Sync.Root != "src" || r.Sync.Glob != "**/*.go" || r.Sync.StorePath != "." {
					t.Errorf("got %+v", r.Sync)
				}
			},
		},
		{
			name:     "tagged sync with items",
			input:    `{"kind":"sync","remove_missing":true,"items":[{"id":"a","content":"x"}]}`,
			wantKind: KindSync,
			checkFunc: func(t *testing.T, r *Request) {
				if len(r.Sync.Items) != 1 || r.Sync.Items[0].ID != "a" {
					t.Errorf("items = %+v", r.Sync.Items)
				}
			},
		},
		{name: "unknown kind", input: `{"kind":"delete"}`, wantErr: true},
		{name: "bad json", input: `{`, wantErr: true},
		{name: "missing kind", input: `{"prompt":"hello"}`, wantErr: true},
		{name: "wrong field type", input: `{"kind":"query","count":"three"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Request
			err := json.Unmarshal([]byte(tt.input), &r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if r.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", r.Kind, tt.wantKind)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, &r)
			}
		})
	}
}

func TestRequest_MarshalJSON(t *testing.T) {
	r := Request{Kind: KindQuery, Query: &QueryRequest{Prompt: "p", Count: 2}}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Request
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Kind != KindQuery || back.Query.Prompt != "p" || back.Query.Count != 2 {
		t.Errorf("got %+v from %s", back.Query, data)
	}
}

func TestRequest_Validate(t *testing.T) {
	neg := -1.0
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid query", Request{Kind: KindQuery, Query: &QueryRequest{Prompt: "x"}}, false},
		{"negative threshold is allowed", Request{Kind: KindQuery, Query: &QueryRequest{Prompt: "x", Threshold: &neg}}, false},
		{"empty prompt", Request{Kind: KindQuery, Query: &QueryRequest{Prompt: "  "}}, true},
		{"negative count", Request{Kind: KindQuery, Query: &QueryRequest{Prompt: "x", Count: -1}}, true},
		{"both variants", Request{Kind: KindQuery, Query: &QueryRequest{Prompt: "x"}, Sync: &SyncRequest{}}, true},
		{"missing variant", Request{Kind: KindSync}, true},
		{"valid sync", Request{Kind: KindSync, Sync: &SyncRequest{}}, false},
		{"duplicate ids", Request{Kind: KindSync, Sync: &SyncRequest{Items: []Candidate{{ID: "a"}, {ID: "a"}}}}, true},
		{"empty id", Request{Kind: KindSync, Sync: &SyncRequest{Items: []Candidate{{ID: ""}}}}, true},
		{"parent dir id", Request{Kind: KindSync, Sync: &SyncRequest{Items: []Candidate{{ID: "../secret.txt"}}}}, true},
		{"nested parent dir id", Request{Kind: KindSync, Sync: &SyncRequest{Items: []Candidate{{ID: "docs/../../secret.txt"}}}}, true},
		{"absolute id", Request{Kind: KindSync, Sync: &SyncRequest{Items: []Candidate{{ID: "/etc/passwd"}}}}, true},
		{"nested relative id", Request{Kind: KindSync, Sync: &SyncRequest{Items: []Candidate{{ID: "docs/a.md:3"}}}}, false},
		{"unknown kind", Request{Kind: "other"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ve *errs.ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestQueryRequest_ApplyDefaults(t *testing.T) {
	q := &QueryRequest{Prompt: "x"}
	q.ApplyDefaults(1, 100)
	if q.Count != 1 {
		t.Errorf("default count = %d", q.Count)
	}
	q = &QueryRequest{Prompt: "x", Count: 500}
	q.ApplyDefaults(1, 100)
	if q.Count != 100 {
		t.Errorf("capped count = %d", q.Count)
	}
}

func TestSyncRequest_ValidateEscapingIDs(t *testing.T) {
	req := &SyncRequest{Items: []Candidate{{ID: "ok.txt"}, {ID: "../x"}, {ID: "/abs"}}}
	err := req.Validate()
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Field != "items" {
		t.Errorf("field = %q", ve.Field)
	}
	if len(ve.IDs) != 2 || ve.IDs[0] != "../x" || ve.IDs[1] != "/abs" {
		t.Errorf("ids = %v", ve.IDs)
	}
}
