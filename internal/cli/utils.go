// Package cli renders search results, ingestion reports and status for the vismatch CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/hyperjump/vismatch/internal/models"
	"github.com/hyperjump/vismatch/internal/storage"
	"github.com/hyperjump/vismatch/pkg/utils"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one line per match.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, compact or json)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		writeSearchResultsCompact(w, response)
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	if len(response.Matches) == 0 {
		fmt.Fprintf(w, "\nNo products found with similarity above %s%% (%dms)\n",
			formatPercent(response.Threshold), response.QueryTime)
		return
	}
	fmt.Fprintf(w, "\nFound %d products at or above %s%% similarity in %dms\n\n",
		response.Total, formatPercent(response.Threshold), response.QueryTime)
	for i, m := range response.Matches {
		writeOneMatch(w, i+1, m)
	}
}

func writeOneMatch(w io.Writer, rank int, m models.Match) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Similarity: %.4f\n", rank, m.Similarity)
	fmt.Fprintf(w, "ID: %s\n", m.Product.ID)
	if m.Product.Name != "" {
		fmt.Fprintf(w, "Name: %s\n", utils.Truncate(m.Product.Name, 120))
	}
	if price, ok := m.Product.Price(); ok {
		fmt.Fprintf(w, "Price: %.2f\n", price)
	}
	if m.Product.Image != "" {
		fmt.Fprintf(w, "Image: %s\n", m.Product.Image)
	}
	fmt.Fprintln(w)
}

func writeSearchResultsCompact(w io.Writer, response *models.SearchResponse) {
	for i, m := range response.Matches {
		name := m.Product.Name
		if name == "" {
			name = m.Product.Image
		}
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, m.Similarity, m.Product.ID, utils.Truncate(name, 60))
	}
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteIngestReport writes the outcome of an ingestion run. Text output starts with the
// "Embedded N, skipped M" summary line followed by one line per skip.
func WriteIngestReport(w io.Writer, report *models.IngestReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Embedded %d, skipped %d\n", report.Embedded, report.Skipped)
	if format == OutputCompact {
		return nil
	}
	for _, sk := range report.Skips {
		fmt.Fprintf(w, "  skipped #%d %s (%s): %s\n", sk.Position, sk.ProductID, sk.Image, sk.Reason)
	}
	return nil
}

// Status is the operator view of a store and its latest ingestion run.
type Status struct {
	Products       int                  `json:"products"`
	Dimensions     int                  `json:"dimensions,omitempty"`
	Threshold      float64              `json:"threshold"`
	StoreError     string               `json:"store_error,omitempty"`
	Artifacts      []storage.Artifact   `json:"artifacts"`
	DiskUsageBytes int64                `json:"disk_usage_bytes"`
	LatestRun      *models.IngestReport `json:"latest_run,omitempty"`
}

// WriteStatus writes st in the given format.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	if st.StoreError != "" {
		fmt.Fprintf(w, "Store:      unavailable (%s)\n", st.StoreError)
	} else {
		fmt.Fprintf(w, "Store:      %d products, %d dimensions\n", st.Products, st.Dimensions)
	}
	fmt.Fprintf(w, "Threshold:  %s%%\n", formatPercent(st.Threshold))
	for _, a := range st.Artifacts {
		if a.Exists {
			fmt.Fprintf(w, "Artifact:   %s (%s, modified %s)\n", a.Path, FormatBytes(a.Size), a.ModTime.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintf(w, "Artifact:   %s (missing)\n", a.Path)
		}
	}
	fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(st.DiskUsageBytes))
	if run := st.LatestRun; run != nil {
		fmt.Fprintf(w, "Last run:   %s %s at %s, embedded %d, skipped %d of %d\n",
			run.RunID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"), run.Embedded, run.Skipped, run.Total)
	} else {
		fmt.Fprintln(w, "Last run:   none recorded")
	}
	return nil
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatPercent(threshold float64) string {
	return strconv.FormatFloat(math.Round(threshold*10000)/100, 'f', -1, 64)
}
