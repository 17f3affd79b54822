// Package contentid derives content hashes and item ids.
//
// Hashes are the adler32 checksum of the raw content bytes rendered as eight
// lowercase hex digits. The format is part of the persisted store and must
// not change: a different hash for unchanged content forces a re-embed.
package contentid

import (
	"fmt"
	"hash/adler32"
	"path/filepath"
	"strconv"
	"strings"
)

// Hash returns the content hash of data.
func Hash(data []byte) string {
	return fmt.Sprintf("%08x", adler32.Checksum(data))
}

// HashString returns the content hash of the UTF-8 bytes of s.
func HashString(s string) string {
	return Hash([]byte(s))
}

// Normalize converts path separators to forward slashes so ids are stable
// across platforms.
func Normalize(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
}

// RelativeTo returns the id of path relative to the directory holding the
// store.
func RelativeTo(storeDir, path string) (string, error) {
	absDir, err := filepath.Abs(storeDir)
	if err != nil {
		return "", fmt.Errorf("resolve store dir: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return "", fmt.Errorf("relative path: %w", err)
	}
	return Normalize(rel), nil
}

// ChunkID returns the id of the chunk of fileID starting at line.
func ChunkID(fileID string, line int) string {
	return fileID + ":" + strconv.Itoa(line)
}

// SplitChunkID splits a chunk id into its file id and line. ok is false when
// id carries no numeric line suffix.
func SplitChunkID(id string) (fileID string, line int, ok bool) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:i], n, true
}
