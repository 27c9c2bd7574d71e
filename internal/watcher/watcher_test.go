package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_coalescesArtifactWrites(t *testing.T) {
	dir := t.TempDir()
	emb := filepath.Join(dir, "embeddings.npy")
	prod := filepath.Join(dir, "valid_products.json")

	var calls int32
	w := NewWatcher([]string{emb, prod}, func() { atomic.AddInt32(&calls, 1) }, WithDebounce(150*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(prod, "[]"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(emb, "x"); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&calls) >= 1 }) {
		t.Fatal("expected a change callback")
	}
	time.Sleep(300 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("callbacks = %d, want 1 for one burst of writes", got)
	}
}

func TestWatcher_seesRenameIntoPlace(t *testing.T) {
	dir := t.TempDir()
	emb := filepath.Join(dir, "embeddings.npy")

	var calls int32
	w := NewWatcher([]string{emb}, func() { atomic.AddInt32(&calls, 1) }, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	tmp := filepath.Join(dir, ".embeddings.npy.tmp-1")
	if err := writeFile(tmp, "x"); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, emb); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 }) {
		t.Errorf("callbacks = %d, want 1", atomic.LoadInt32(&calls))
	}
}

func TestWatcher_ignoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	w := NewWatcher([]string{filepath.Join(dir, "embeddings.npy")}, func() { atomic.AddInt32(&calls, 1) },
		WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(filepath.Join(dir, "notes.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("callbacks = %d, want 0", got)
	}
}

func TestWatcher_Start_createsMissingDirectory(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "data", "store", "embeddings.npy")

	w := NewWatcher([]string{file}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, err := os.Stat(filepath.Dir(file)); err != nil {
		t.Errorf("directory should exist after Start: %v", err)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher([]string{filepath.Join(t.TempDir(), "a.json")}, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestNewWatcher_dedupesDirectories(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher([]string{filepath.Join(dir, "a"), filepath.Join(dir, "b"), filepath.Join(dir, "a")}, nil)
	if len(w.dirs) != 1 {
		t.Errorf("dirs = %v, want one", w.dirs)
	}
	if len(w.Files()) != 2 {
		t.Errorf("files = %v, want two", w.Files())
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
