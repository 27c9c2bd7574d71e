package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/vismatch/internal/models"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
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

	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		catalog TEXT,
		total INTEGER NOT NULL DEFAULT 0,
		embedded INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS skips (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		product_id TEXT,
		image TEXT,
		reason TEXT NOT NULL,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateRun inserts a run in the running state.
func (s *SQLiteLedger) CreateRun(ctx context.Context, run *models.IngestReport) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, catalog, total, status)
		 VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt, run.Catalog, run.Total, run.Status,
	)
	return err
}

// FinishRun records the final counts and status of a run.
func (s *SQLiteLedger) FinishRun(ctx context.Context, run *models.IngestReport) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, total = ?, embedded = ?, skipped = ?, status = ?
		 WHERE id = ?`,
		run.FinishedAt, run.Total, run.Embedded, run.Skipped, run.Status, run.RunID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.RunID)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, catalog, total, embedded, skipped, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.IngestReport, error) {
	var run models.IngestReport
	var finished sql.NullTime
	var catalog sql.NullString
	if err := row.Scan(&run.RunID, &run.StartedAt, &finished, &catalog,
		&run.Total, &run.Embedded, &run.Skipped, &run.Status); err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	run.Catalog = catalog.String
	return &run, nil
}

// GetRun returns a run and its skips by ID.
func (s *SQLiteLedger) GetRun(ctx context.Context, id string) (*models.IngestReport, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if run.Skips, err = s.GetSkips(ctx, run.RunID); err != nil {
		return nil, err
	}
	return run, nil
}

// LatestRun returns the most recently started run and its skips.
func (s *SQLiteLedger) LatestRun(ctx context.Context) (*models.IngestReport, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	if run.Skips, err = s.GetSkips(ctx, run.RunID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first, without their skips.
func (s *SQLiteLedger) ListRuns(ctx context.Context, offset, limit int) ([]*models.IngestReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.IngestReport
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AddSkips inserts skip events for a run in a transaction.
func (s *SQLiteLedger) AddSkips(ctx context.Context, runID string, skips []models.SkipEvent) error {
	if len(skips) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO skips (run_id, position, product_id, image, reason)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sk := range skips {
		if _, err := stmt.ExecContext(ctx, runID, sk.Position, sk.ProductID, sk.Image, sk.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSkips returns the skips of a run in catalog order.
func (s *SQLiteLedger) GetSkips(ctx context.Context, runID string) ([]models.SkipEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, product_id, image, reason FROM skips WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skips []models.SkipEvent
	for rows.Next() {
		var sk models.SkipEvent
		var productID, image sql.NullString
		if err := rows.Scan(&sk.Position, &productID, &image, &sk.Reason); err != nil {
			return nil, err
		}
		sk.ProductID = productID.String
		sk.Image = image.String
		skips = append(skips, sk)
	}
	return skips, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
