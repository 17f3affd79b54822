// Package ingest builds sync candidates from files on disk and reads the
// content of stored items back for query results.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hyperjump/kioku/internal/contentid"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/ingest/extract"
	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// DefaultGlob matches every file below the root.
const DefaultGlob = "**/*"

// Sink receives every content observed during ingestion and returns its hash.
type Sink interface {
	Put(content string) string
}

// Params selects the files of one ingestion run. Sink, when set, replaces
// the Ingester's sink for this run.
type Params struct {
	Root    string
	Glob    string
	Chunked bool
	Sink    Sink
}

// Result is the candidate set built from the matched files. Skipped holds
// the ids of files whose content could not be decoded.
type Result struct {
	Candidates []models.Candidate
	Files      int
	Skipped    []string
}

// Ingester reads files into candidates. Ids are paths relative to the
// directory holding the store, with forward slashes.
type Ingester struct {
	storeDir   string
	readRoots  []string
	exclude    map[string]struct{}
	extensions []string
	extractor  *extract.Extractor
	sink       Sink
	logger     *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger used for skipped files.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingester) { in.logger = l }
}

// WithSink sets the sink that receives every observed content.
func WithSink(s Sink) Option {
	return func(in *Ingester) { in.sink = s }
}

// WithExtensions restricts ingestion to files with one of exts.
func WithExtensions(exts []string) Option {
	return func(in *Ingester) { in.extensions = exts }
}

// WithExtractor replaces the default extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(in *Ingester) { in.extractor = e }
}

// WithExclude skips the given paths, typically the store file itself.
func WithExclude(paths ...string) Option {
	return func(in *Ingester) {
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				in.exclude[abs] = struct{}{}
			}
		}
	}
}

// WithReadRoots lets ReadItem read files below dirs in addition to the store
// directory, typically the configured ingest root.
func WithReadRoots(dirs ...string) Option {
	return func(in *Ingester) {
		for _, d := range dirs {
			if abs, err := filepath.Abs(d); err == nil {
				in.readRoots = append(in.readRoots, abs)
			}
		}
	}
}

// New returns an Ingester whose ids are relative to storeDir.
func New(storeDir string, opts ...Option) *Ingester {
	in := &Ingester{
		storeDir:  storeDir,
		exclude:   make(map[string]struct{}),
		extractor: extract.NewExtractor(),
		logger:    zap.NewNop(),
	}
	if abs, err := filepath.Abs(storeDir); err == nil {
		in.readRoots = append(in.readRoots, abs)
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.logger == nil {
		in.logger = zap.NewNop()
	}
	return in
}

// Collect matches p.Glob below p.Root and returns the candidates for a sync.
// Hidden files and directories are not matched. Files that fail to decode
// are logged and listed in Result.Skipped.
func (in *Ingester) Collect(ctx context.Context, p Params) (*Result, error) {
	root := p.Root
	if root == "" {
		root = "."
	}
	pattern := p.Glob
	if pattern == "" {
		pattern = DefaultGlob
	}
	pattern = strings.TrimPrefix(contentid.Normalize(pattern), "./")
	if !doublestar.ValidatePattern(pattern) {
		return nil, errs.Validation("files_ingest_glob", "invalid pattern %q", p.Glob)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errs.Validation("files_ingest_root", "%v", err)
	}
	if !info.IsDir() {
		return nil, errs.Validation("files_ingest_root", "not a directory: %s", root)
	}

	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	sink := in.sink
	if p.Sink != nil {
		sink = p.Sink
	}
	res := &Result{Candidates: make([]models.Candidate, 0, len(matches))}
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hidden(rel) || !in.extensionAllowed(rel) {
			continue
		}
		path := filepath.Join(root, filepath.FromSlash(rel))
		if !in.regularFile(path) {
			continue
		}
		id, err := contentid.RelativeTo(in.storeDir, path)
		if err != nil {
			return nil, fmt.Errorf("file id for %s: %w", path, err)
		}
		text, err := in.read(id, path)
		if err != nil {
			var de *errs.DecodeError
			if errors.As(err, &de) {
				in.logger.Warn("skipping file", zap.String("id", id), zap.Error(err))
				res.Skipped = append(res.Skipped, id)
				continue
			}
			return nil, err
		}
		res.Files++
		if !p.Chunked {
			res.Candidates = append(res.Candidates, candidate(sink, id, text, map[string]any{"type": models.MetaTypeFile}))
			continue
		}
		for _, ch := range ChunkByBlankLines(id, text) {
			res.Candidates = append(res.Candidates, candidate(sink, ch.ID, ch.Content, map[string]any{
				"type": models.MetaTypeChunk,
				"path": id,
				"line": ch.Line,
			}))
		}
	}
	in.logger.Debug("ingested files",
		zap.String("root", root),
		zap.String("glob", pattern),
		zap.Int("files", res.Files),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func candidate(sink Sink, id, content string, meta map[string]any) models.Candidate {
	var hash string
	if sink != nil {
		hash = sink.Put(content)
	} else {
		hash = contentid.HashString(content)
	}
	return models.Candidate{ID: id, Content: content, ContentHash: hash, Meta: meta}
}

// read extracts the text of path. Unreadable or undecodable content yields
// an errs.DecodeError for id.
func (in *Ingester) read(id, path string) (string, error) {
	text, err := in.extractor.Extract(path)
	if err != nil {
		return "", &errs.DecodeError{ID: id, Err: err}
	}
	return text, nil
}

func (in *Ingester) regularFile(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if _, skip := in.exclude[abs]; skip {
		return false
	}
	// Stat follows symlinks so only regular targets are read.
	fi, err := os.Stat(abs)
	return err == nil && fi.Mode().IsRegular()
}

func (in *Ingester) extensionAllowed(rel string) bool {
	if len(in.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(rel), "."))
	for _, a := range in.extensions {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}

func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// ReadItem re-reads the content of a stored item from disk. File items are
// read whole; chunk items are re-chunked and matched by id. Items without a
// type are resolved as a file when one exists at their id, else as a chunk.
func (in *Ingester) ReadItem(it models.Item) (string, error) {
	switch it.Type() {
	case models.MetaTypeFile:
		return in.readFile(it.ID)
	case models.MetaTypeChunk:
		return in.readChunk(it)
	}
	if path, err := in.pathOf(it.ID); err == nil {
		if _, err := os.Stat(path); err == nil {
			return in.readFile(it.ID)
		}
	}
	return in.readChunk(it)
}

// pathOf resolves id below the store directory. Ids that resolve outside
// every read root are reported as not found.
func (in *Ingester) pathOf(id string) (string, error) {
	path, err := filepath.Abs(filepath.Join(in.storeDir, filepath.FromSlash(id)))
	if err != nil {
		return "", fmt.Errorf("%s: %w", id, errs.ErrNotFound)
	}
	for _, root := range in.readRoots {
		if within(root, path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s: outside the readable roots: %w", id, errs.ErrNotFound)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && filepath.IsLocal(rel)
}

func (in *Ingester) readFile(id string) (string, error) {
	path, err := in.pathOf(id)
	if err != nil {
		return "", err
	}
	return in.read(id, path)
}

func (in *Ingester) readChunk(it models.Item) (string, error) {
	fileID := it.Path()
	if fileID == "" {
		var ok bool
		if fileID, _, ok = contentid.SplitChunkID(it.ID); !ok {
			return "", fmt.Errorf("%s: %w", it.ID, errs.ErrNotFound)
		}
	}
	text, err := in.readFile(fileID)
	if err != nil {
		return "", err
	}
	for _, ch := range ChunkByBlankLines(fileID, text) {
		if ch.ID == it.ID {
			return ch.Content, nil
		}
	}
	return "", fmt.Errorf("%s: %w", it.ID, errs.ErrNotFound)
}
