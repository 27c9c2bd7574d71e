package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
search:
  similarity_threshold: 0.8
ingest:
  workers: 2
  fetch_timeout: 3s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Search.SimilarityThreshold != 0.8 {
		t.Errorf("threshold: got %v", cfg.Search.SimilarityThreshold)
	}
	if cfg.Ingest.Workers != 2 || cfg.Ingest.FetchTimeout != 3*time.Second {
		t.Errorf("unexpected ingest config: %+v", cfg.Ingest)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  embeddings_path: "./data/embeddings.npy"
  products_path: "./data/valid_products.json"
ingest:
  catalog_path: "./data/products.json"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "embeddings.npy"); cfg.Storage.EmbeddingsPath != want {
		t.Errorf("embeddings_path = %s, want %s", cfg.Storage.EmbeddingsPath, want)
	}
	if want := filepath.Join(dir, "data", "valid_products.json"); cfg.Storage.ProductsPath != want {
		t.Errorf("products_path = %s, want %s", cfg.Storage.ProductsPath, want)
	}
	if want := filepath.Join(dir, "data", "products.json"); cfg.Ingest.CatalogPath != want {
		t.Errorf("catalog_path = %s, want %s", cfg.Ingest.CatalogPath, want)
	}
}

func TestLoad_rejectsThresholdOutOfRange(t *testing.T) {
	path := writeConfig(t, "search:\n  similarity_threshold: 1.5\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for threshold above 1")
	}
}

func TestLoad_rejectsNaNThreshold(t *testing.T) {
	t.Setenv(EnvThreshold, "NaN")
	path := writeConfig(t, "debug: true\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for NaN threshold from env")
	}

	t.Setenv(EnvThreshold, "")
	path = writeConfig(t, "search:\n  similarity_threshold: .nan\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for NaN threshold from yaml")
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv(EnvPort, "9999")
	t.Setenv(EnvThreshold, "0")
	t.Setenv(EnvMinioEndpoint, "minio:9000")
	path := writeConfig(t, "server:\n  port: 8000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Search.SimilarityThreshold != 0 {
		t.Errorf("env threshold 0 should win over default, got %v", cfg.Search.SimilarityThreshold)
	}
	if !cfg.ObjectStore.Enabled() {
		t.Error("object store should be enabled by MINIO_ENDPOINT")
	}
}

func TestLoad_invalidEnv(t *testing.T) {
	t.Setenv(EnvPort, "eighty")
	path := writeConfig(t, "debug: true\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for non-numeric PORT")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("VISMATCH_TEST_DOTENV=hello\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("VISMATCH_TEST_DOTENV") })
	if err := LoadDotEnv(envPath); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("VISMATCH_TEST_DOTENV"); got != "hello" {
		t.Errorf("VISMATCH_TEST_DOTENV = %q", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Search.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("default threshold: got %v", cfg.Search.SimilarityThreshold)
	}
	if cfg.Embedding.Dimensions != 512 || cfg.Embedding.ImageSize != 224 {
		t.Errorf("default embedding: got %+v", cfg.Embedding)
	}
	if cfg.Ingest.Workers != 4 || cfg.Ingest.FetchTimeout != 10*time.Second {
		t.Errorf("default ingest: got %+v", cfg.Ingest)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}
