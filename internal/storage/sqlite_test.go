package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/vismatch/internal/models"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	ledger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "db", "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func TestSQLiteLedger_RunLifecycle(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	run := &models.IngestReport{RunID: "run-1", Catalog: "/data/products.json", Total: 3}
	if err := ledger.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if run.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}
	if run.Status != models.RunStatusRunning {
		t.Errorf("status = %q, want %q", run.Status, models.RunStatusRunning)
	}

	skips := []models.SkipEvent{
		{Position: 1, ProductID: "B", Image: "https://example.com/b.jpg", Reason: "unexpected status 404 Not Found"},
	}
	if err := ledger.AddSkips(ctx, run.RunID, skips); err != nil {
		t.Fatal(err)
	}

	run.Embedded = 2
	run.Skipped = 1
	run.Status = models.RunStatusSucceeded
	if err := ledger.FinishRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := ledger.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Embedded != 2 || got.Skipped != 1 || got.Total != 3 {
		t.Errorf("counts = %d/%d/%d, want 2/1/3", got.Embedded, got.Skipped, got.Total)
	}
	if got.Status != models.RunStatusSucceeded {
		t.Errorf("status = %q", got.Status)
	}
	if got.Catalog != "/data/products.json" {
		t.Errorf("catalog = %q", got.Catalog)
	}
	if got.FinishedAt.IsZero() {
		t.Error("FinishedAt should be set")
	}
	if len(got.Skips) != 1 || got.Skips[0].ProductID != "B" || got.Skips[0].Position != 1 {
		t.Errorf("skips = %+v", got.Skips)
	}
}

func TestSQLiteLedger_LatestAndList(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.LatestRun(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("empty ledger: err = %v, want ErrRunNotFound", err)
	}

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		run := &models.IngestReport{RunID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := ledger.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := ledger.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.RunID != "c" {
		t.Errorf("latest = %q, want c", latest.RunID)
	}
	if !latest.FinishedAt.IsZero() {
		t.Error("unfinished run should have zero FinishedAt")
	}

	runs, err := ledger.ListRuns(ctx, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "c" || runs[1].RunID != "b" {
		t.Errorf("ListRuns = %v", runIDs(runs))
	}
	runs, _ = ledger.ListRuns(ctx, 2, 2)
	if len(runs) != 1 || runs[0].RunID != "a" {
		t.Errorf("ListRuns offset 2 = %v", runIDs(runs))
	}
}

func TestSQLiteLedger_NotFound(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun: err = %v, want ErrRunNotFound", err)
	}
	err := ledger.FinishRun(ctx, &models.IngestReport{RunID: "missing", Status: models.RunStatusFailed})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun: err = %v, want ErrRunNotFound", err)
	}
	if err := ledger.AddSkips(ctx, "missing", nil); err != nil {
		t.Errorf("AddSkips with no skips: %v", err)
	}
}

func TestSQLiteLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	ledger, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := ledger.CreateRun(ctx, &models.IngestReport{RunID: "persisted"}); err != nil {
		t.Fatal(err)
	}
	_ = ledger.Close()

	ledger, err = NewSQLiteLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()
	if _, err := ledger.GetRun(ctx, "persisted"); err != nil {
		t.Errorf("run not persisted: %v", err)
	}
}

func runIDs(runs []*models.IngestReport) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.RunID
	}
	return ids
}
