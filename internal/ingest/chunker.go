package ingest

import (
	"strings"

	"github.com/hyperjump/kioku/internal/contentid"
)

// Chunk is a blank-line delimited piece of a file.
type Chunk struct {
	ID      string
	Line    int
	Content string
}

// ChunkByBlankLines splits content on empty lines. Each chunk is keyed by
// fileID and the 0-based line it starts on, and keeps the terminating empty
// line as a trailing "\n". A final chunk with no terminating empty line is
// keyed by the total line count, which keeps ids stable with stores written
// by earlier versions. Empty chunks are dropped.
func ChunkByBlankLines(fileID, content string) []Chunk {
	lines := strings.Split(content, "\n")
	var (
		chunks []Chunk
		cur    strings.Builder
		start  int
	)
	for n, line := range lines {
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
		if line != "" {
			continue
		}
		if cur.Len() > 0 {
			chunks = append(chunks, Chunk{
				ID:      contentid.ChunkID(fileID, start),
				Line:    start,
				Content: cur.String(),
			})
		}
		cur.Reset()
		start = n + 1
	}
	if cur.Len() > 0 {
		chunks = append(chunks, Chunk{
			ID:      contentid.ChunkID(fileID, len(lines)),
			Line:    start,
			Content: cur.String(),
		})
	}
	return chunks
}
