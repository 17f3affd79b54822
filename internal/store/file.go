package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
)

// fileDocument is the on-disk JSON layout. Dimensions keeps the vector
// length of a store that has been emptied.
type fileDocument struct {
	Items      []models.Item `json:"items"`
	Vectors    [][]float32   `json:"vectors"`
	Dimensions int           `json:"dimensions,omitempty"`
}

// FilePersister stores the whole store as one JSON document. Saves go
// through a temporary file in the same directory that is synced and renamed
// over the target.
type FilePersister struct {
	path string
}

// NewFilePersister returns a persister for the JSON file at path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the store file path.
func (p *FilePersister) Path() string { return p.path }

// Backend returns BackendJSON.
func (p *FilePersister) Backend() string { return BackendJSON }

// Load reads the store file. A missing file yields an empty store.
func (p *FilePersister) Load(ctx context.Context) (*Store, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return nil, &errs.PersistenceError{Op: "read store", Path: p.path, Err: err}
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &errs.PersistenceError{Op: "decode store", Path: p.path, Err: err}
	}
	s, err := FromRows(doc.Items, doc.Vectors, doc.Dimensions)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "decode store", Path: p.path, Err: err}
	}
	return s, nil
}

// Save writes s atomically.
func (p *FilePersister) Save(ctx context.Context, s *Store) error {
	doc := fileDocument{
		Items:      s.items,
		Vectors:    s.vectors,
		Dimensions: s.dimensions,
	}
	if doc.Items == nil {
		doc.Items = []models.Item{}
	}
	if doc.Vectors == nil {
		doc.Vectors = [][]float32{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return &errs.PersistenceError{Op: "encode store", Path: p.path, Err: err}
	}
	if err := writeFileAtomic(p.path, data); err != nil {
		return &errs.PersistenceError{Op: "write store", Path: p.path, Err: err}
	}
	return nil
}

// DiskUsage returns the size of the store file.
func (p *FilePersister) DiskUsage() (int64, error) {
	return diskUsage(p.path)
}

// Close is a no-op.
func (p *FilePersister) Close() error { return nil }

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return nil
}
