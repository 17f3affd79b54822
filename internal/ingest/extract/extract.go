// Package extract turns file bytes into text. Plain text must be valid UTF-8;
// pdf, docx and xlsx documents are decoded by format.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotText is returned for content that is not valid UTF-8 text.
var ErrNotText = errors.New("content is not valid UTF-8")

// Func extracts text from the raw bytes of one document.
type Func func(content []byte) (string, error)

// Extractor dispatches on file extension. Extensions without a registered
// Func are read as plain text.
type Extractor struct {
	formats map[string]Func
}

// NewExtractor returns an Extractor that knows pdf, docx and xlsx.
func NewExtractor() *Extractor {
	return &Extractor{formats: map[string]Func{
		".pdf":  extractPDF,
		".docx": extractDOCX,
		".xlsx": extractXLSX,
	}}
}

// Register sets the Func used for ext, e.g. ".html".
func (e *Extractor) Register(ext string, fn Func) {
	e.formats[normalizeExt(ext)] = fn
}

// Extract reads the file at path and returns its text.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content according to ext.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := e.formats[normalizeExt(ext)]; ok {
		return fn(content)
	}
	return extractText(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
