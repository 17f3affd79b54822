package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
)

// SQLitePersister stores items and vectors in a SQLite database. Rows keep
// their store position so the matrix order survives a round trip.
type SQLitePersister struct {
	db   *sql.DB
	path string
}

// NewSQLitePersister opens or creates the database at path and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLitePersister{db: db, path: path}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		pos INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		content_hash TEXT NOT NULL,
		embedder TEXT NOT NULL,
		meta TEXT,
		vector BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database path.
func (p *SQLitePersister) Path() string { return p.path }

// Backend returns BackendSQLite.
func (p *SQLitePersister) Backend() string { return BackendSQLite }

// Load reads all rows in position order.
func (p *SQLitePersister) Load(ctx context.Context) (*Store, error) {
	dims, err := p.dimensions(ctx)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "read store", Path: p.path, Err: err}
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, content_hash, embedder, meta, vector FROM items ORDER BY pos`)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "read store", Path: p.path, Err: err}
	}
	defer rows.Close()

	var (
		items   []models.Item
		vectors [][]float32
	)
	for rows.Next() {
		var (
			it   models.Item
			meta sql.NullString
			blob []byte
		)
		if err := rows.Scan(&it.ID, &it.ContentHash, &it.Embedder, &meta, &blob); err != nil {
			return nil, &errs.PersistenceError{Op: "read store", Path: p.path, Err: err}
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &it.Meta); err != nil {
				return nil, &errs.PersistenceError{Op: "decode store", Path: p.path, IDs: []string{it.ID}, Err: err}
			}
		}
		vec, err := bytesToFloat32Slice(blob)
		if err != nil {
			return nil, &errs.PersistenceError{Op: "decode store", Path: p.path, IDs: []string{it.ID}, Err: err}
		}
		items = append(items, it)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.PersistenceError{Op: "read store", Path: p.path, Err: err}
	}

	s, err := FromRows(items, vectors, dims)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "decode store", Path: p.path, Err: err}
	}
	return s, nil
}

func (p *SQLitePersister) dimensions(ctx context.Context) (int, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'dimensions'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid stored dimensions %q: %w", v, err)
	}
	return n, nil
}

// Save replaces every row in one transaction.
func (p *SQLitePersister) Save(ctx context.Context, s *Store) error {
	if err := p.save(ctx, s); err != nil {
		return &errs.PersistenceError{Op: "write store", Path: p.path, Err: err}
	}
	return nil
}

func (p *SQLitePersister) save(ctx context.Context, s *Store) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (pos, id, content_hash, embedder, meta, vector) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, it := range s.items {
		var meta sql.NullString
		if it.Meta != nil {
			data, err := json.Marshal(it.Meta)
			if err != nil {
				return fmt.Errorf("failed to marshal meta for %s: %w", it.ID, err)
			}
			meta = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, i, it.ID, it.ContentHash, it.Embedder, meta, float32SliceToBytes(s.vectors[i])); err != nil {
			return fmt.Errorf("failed to insert %s: %w", it.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES ('dimensions', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(s.dimensions)); err != nil {
		return err
	}
	return tx.Commit()
}

// DiskUsage returns the size of the database and its WAL files.
func (p *SQLitePersister) DiskUsage() (int64, error) {
	return diskUsage(Files(p.path)...)
}

// Close closes the database connection.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
