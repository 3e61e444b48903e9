// Package cli renders ruiji results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/hyperjump/ruiji/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("invalid output format %q (use text or json)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d similar images in %dms (model %s, query stored as %s)\n\n",
		len(response.Results), response.QueryTime, response.Model, response.QueryID)
	for i, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Similarity: %.4f\n", i+1, result.Similarity)
		fmt.Fprintf(w, "ID: %s\n", result.ID)
		writeMetadata(w, result.Metadata)
		fmt.Fprintln(w)
	}
	return nil
}

// WriteRecord writes one stored record, without its vector in text format.
func WriteRecord(w io.Writer, rec *models.Record, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, struct {
			ID         string          `json:"id"`
			Dimensions int             `json:"dimensions"`
			Metadata   models.Metadata `json:"metadata"`
			Vector     []float32       `json:"vector"`
		}{rec.ID, len(rec.Vector), rec.Metadata, rec.Vector})
	}
	fmt.Fprintf(w, "ID: %s\n", rec.ID)
	fmt.Fprintf(w, "Dimensions: %d\n", len(rec.Vector))
	writeMetadata(w, rec.Metadata)
	return nil
}

// WriteRecordLine writes a one-line summary of rec, for listings.
func WriteRecordLine(w io.Writer, rec *models.Record, format OutputFormat) error {
	if format == OutputJSON {
		return json.NewEncoder(w).Encode(rec.Metadata)
	}
	_, err := fmt.Fprintf(w, "%s  %-8s  %s  %s\n",
		rec.ID, rec.Metadata.Model, rec.Metadata.CreatedAt.Format(time.RFC3339), Truncate(rec.Metadata.SourceReference, 60))
	return err
}

// WriteValue writes v as indented JSON, or as "key: value" lines for a flat map in text format.
func WriteValue(w io.Writer, v map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, v)
	}
	for _, k := range sortedKeys(v) {
		fmt.Fprintf(w, "%s: %v\n", k, v[k])
	}
	return nil
}

func writeMetadata(w io.Writer, meta models.Metadata) {
	fmt.Fprintf(w, "Model: %s\n", meta.Model)
	if !meta.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created: %s\n", meta.CreatedAt.Format(time.RFC3339))
	}
	if meta.SourceReference != "" {
		fmt.Fprintf(w, "Source: %s\n", meta.SourceReference)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
