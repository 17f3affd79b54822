package store

import (
	"context"
	"fmt"
	"os"
)

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Persister loads and saves a Store. Load returns an empty store when the
// persisted resource does not exist and a PersistenceError when it exists
// but cannot be decoded. Save is all-or-nothing.
type Persister interface {
	Load(ctx context.Context) (*Store, error)
	Save(ctx context.Context, s *Store) error
	Path() string
	Backend() string
	DiskUsage() (int64, error)
	Close() error
}

// Open returns the persister for backend at path.
func Open(backend, path string) (Persister, error) {
	switch backend {
	case "", BackendJSON:
		return NewFilePersister(path), nil
	case BackendSQLite:
		return NewSQLitePersister(path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}

// Files returns the files a persister at path may write, including the
// SQLite sidecar files.
func Files(path string) []string {
	return []string{path, path + "-wal", path + "-shm", path + "-journal"}
}

// diskUsage sums the sizes of the given files. Missing files count as 0.
func diskUsage(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
