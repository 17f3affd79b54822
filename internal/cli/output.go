// Package cli formats command output for the kioku CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// contentPreview is the number of runes of content shown per text result.
const contentPreview = 200

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q: want text or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteQueryResponse writes query results to w in the given format.
func WriteQueryResponse(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(resp.Results), resp.QueryTime)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Similarity: %.4f\n", i+1, r.Similarity)
		fmt.Fprintf(w, "ID: %s\n", r.ID)
		if t := r.Type(); t != "" {
			fmt.Fprintf(w, "Type: %s\n", t)
		}
		if r.Stale {
			fmt.Fprintln(w, "Content changed since last sync")
		}
		if r.Content != "" {
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(strings.TrimSpace(r.Content), contentPreview))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteSyncResult writes a sync summary to w in the given format.
func WriteSyncResult(w io.Writer, res *models.SyncResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	if !res.Changed() {
		fmt.Fprintf(w, "No new or updated items (%d considered)\n", res.Considered)
	} else {
		fmt.Fprintf(w, "Updated %d, removed %d of %d considered\n", len(res.Updated), len(res.Removed), res.Considered)
		writeIDs(w, "+", res.Updated)
		writeIDs(w, "-", res.Removed)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped %d undecodable file(s)\n", len(res.Skipped))
		writeIDs(w, "!", res.Skipped)
	}
	return nil
}

func writeIDs(w io.Writer, mark string, ids []string) {
	for _, id := range ids {
		fmt.Fprintf(w, "  %s %s\n", mark, id)
	}
}

// WriteStatus writes the store status to w in the given format.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "Store:       %s (%s)\n", st.StorePath, st.Backend)
	fmt.Fprintf(w, "Items:       %d\n", st.Items)
	fmt.Fprintf(w, "Dimensions:  %d\n", st.Dimensions)
	fmt.Fprintf(w, "Embedder:    %s\n", st.Embedder)
	fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(st.DiskBytes))
	return nil
}

// FormatBytes renders n bytes with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
