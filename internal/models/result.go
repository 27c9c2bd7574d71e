package models

import "time"

// Match is a single similarity hit: the product and its cosine similarity to the query.
type Match struct {
	Product    ProductRecord `json:"product"`
	Similarity float64       `json:"similarity"`
	// Index is the product's position in the embedding store.
	Index int `json:"-"`
}

// SearchResponse wraps matches with query metadata for CLI and status output.
// An empty Matches slice is a normal outcome, not an error.
type SearchResponse struct {
	Matches   []Match `json:"matches"`
	Total     int     `json:"total"`
	Threshold float64 `json:"threshold"`
	QueryTime int64   `json:"query_time_ms"`
	Query     string  `json:"query,omitempty"`
}

// SkipEvent records one catalog record the ingestion pipeline could not embed.
type SkipEvent struct {
	Position  int    `json:"position"`
	ProductID string `json:"product_id"`
	Image     string `json:"image"`
	Reason    string `json:"reason"`
}

// IngestReport summarizes an ingestion run for operators.
type IngestReport struct {
	RunID      string      `json:"run_id"`
	Catalog    string      `json:"catalog,omitempty"`
	Total      int         `json:"total"`
	Embedded   int         `json:"embedded"`
	Skipped    int         `json:"skipped"`
	Skips      []SkipEvent `json:"skips,omitempty"`
	Status     string      `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Run statuses recorded in the ledger.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)
