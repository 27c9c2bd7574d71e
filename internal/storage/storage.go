// Package storage persists the ingestion run ledger and reports disk usage of store artifacts.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/vismatch/internal/models"
)

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// Ledger records ingestion runs and the records each run skipped.
type Ledger interface {
	// Run operations
	CreateRun(ctx context.Context, run *models.IngestReport) error
	FinishRun(ctx context.Context, run *models.IngestReport) error
	GetRun(ctx context.Context, id string) (*models.IngestReport, error)
	LatestRun(ctx context.Context) (*models.IngestReport, error)
	ListRuns(ctx context.Context, offset, limit int) ([]*models.IngestReport, error)

	// Skip operations
	AddSkips(ctx context.Context, runID string, skips []models.SkipEvent) error
	GetSkips(ctx context.Context, runID string) ([]models.SkipEvent, error)

	Close() error
}
