package main

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/vismatch/internal/config"
	"github.com/hyperjump/vismatch/internal/models"
	"github.com/hyperjump/vismatch/internal/storage"
	"github.com/hyperjump/vismatch/internal/store"
	"go.uber.org/zap"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after image are moved first",
			args:     []string{"shoe.jpg", "-threshold", "0.8"},
			expected: []string{"-threshold", "0.8", "shoe.jpg"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-threshold", "0.8", "shoe.jpg"},
			expected: []string{"-threshold", "0.8", "shoe.jpg"},
		},
		{
			name:     "image only returns unchanged",
			args:     []string{"https://example.com/shoe.jpg"},
			expected: []string{"https://example.com/shoe.jpg"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseThresholdFlag(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 0.7, false},
		{"  ", 0.7, false},
		{"0.85", 0.85, false},
		{"0", 0, false},
		{"-1", -1, false},
		{"1", 1, false},
		{"1.01", 0, true},
		{"-1.5", 0, true},
		{"high", 0, true},
		{"NaN", 0, true},
	}
	for _, tt := range tests {
		got, err := parseThresholdFlag(tt.in, 0.7)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseThresholdFlag(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseThresholdFlag(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsRemoteURL(t *testing.T) {
	tests := map[string]bool{
		"https://example.com/a.jpg": true,
		"http://example.com/a.jpg":  true,
		"s3://bucket/a.jpg":         false,
		"file:///tmp/a.jpg":         false,
		"/tmp/a.jpg":                false,
		"a.jpg":                     false,
		"http:///a.jpg":             false,
	}
	for in, want := range tests {
		if got := isRemoteURL(in); got != want {
			t.Errorf("isRemoteURL(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./runs.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
search:
  similarity_threshold: 0.8
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvThreshold, "")
	t.Setenv(config.EnvPort, "")

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Search.SimilarityThreshold != 0.8 {
		t.Errorf("threshold = %v, want 0.8", cfg.Search.SimilarityThreshold)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etc", "config.yaml")

	if err := writeDefaultConfig(path, false); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvThreshold, "")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Search.SimilarityThreshold != config.DefaultSimilarityThreshold {
		t.Errorf("threshold = %v, want default", cfg.Search.SimilarityThreshold)
	}

	if err := writeDefaultConfig(path, false); err == nil {
		t.Error("expected error when config already exists")
	}
	if err := writeDefaultConfig(path, true); err != nil {
		t.Errorf("force overwrite: %v", err)
	}
}

func TestNewSearchRequest_url(t *testing.T) {
	threshold := 0.8
	req, err := newSearchRequest("http://localhost:8080/", "https://example.com/shoe.jpg", &threshold)
	if err != nil {
		t.Fatal(err)
	}
	if req.URL.Path != "/api/v1/search" || req.URL.Query().Get("threshold") != "0.8" {
		t.Errorf("url = %s", req.URL)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", req.Header.Get("Content-Type"))
	}
	var body map[string]string
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["url"] != "https://example.com/shoe.jpg" {
		t.Errorf("body = %v", body)
	}
}

func TestNewSearchRequest_upload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shoe.jpg")
	if err := os.WriteFile(path, []byte("image-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	req, err := newSearchRequest("http://localhost:8080", path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if req.URL.RawQuery != "" {
		t.Errorf("unexpected query %q", req.URL.RawQuery)
	}
	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("content type = %q", req.Header.Get("Content-Type"))
	}
	file, header, err := req.FormFile("image")
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	if string(data) != "image-bytes" || header.Filename != "shoe.jpg" {
		t.Errorf("uploaded %q as %q", data, header.Filename)
	}

	if _, err := newSearchRequest("http://localhost:8080", filepath.Join(t.TempDir(), "missing.jpg"), nil); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestSearchViaHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("threshold") {
		case "0.99":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message":"No products found with similarity above 99%"}`)
		case "0.5":
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":"embedding store not loaded"}`)
		default:
			io.WriteString(w, `[{"product":{"id":"A","name":"Red shoe","image":"a.jpg"},"similarity":0.93}]`)
		}
	}))
	defer srv.Close()

	resp, err := searchViaHTTP(srv.URL, "https://example.com/q.jpg", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Matches[0].Product.ID != "A" || resp.Matches[0].Similarity != 0.93 {
		t.Errorf("resp = %+v", resp)
	}

	high := 0.99
	resp, err = searchViaHTTP(srv.URL, "https://example.com/q.jpg", &high)
	if err != nil {
		t.Fatalf("404 must be an empty result, got %v", err)
	}
	if resp.Total != 0 || resp.Matches == nil || resp.Threshold != 0.99 {
		t.Errorf("resp = %+v", resp)
	}

	low := 0.5
	_, err = searchViaHTTP(srv.URL, "https://example.com/q.jpg", &low)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v, want 503 error", err)
	}
}

func testConfig(dir string) *config.Config {
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	cfg.Storage.EmbeddingsPath = filepath.Join(dir, "embeddings.npy")
	cfg.Storage.ProductsPath = filepath.Join(dir, "valid_products.json")
	cfg.Storage.DatabasePath = filepath.Join(dir, "db", "runs.db")
	return &cfg
}

func TestLocalStatus(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	status := localStatus(context.Background(), cfg)
	if status.StoreError == "" {
		t.Error("missing store should be reported")
	}
	if status.LatestRun != nil {
		t.Error("no ledger should mean no latest run")
	}
	if _, err := os.Stat(cfg.Storage.DatabasePath); !os.IsNotExist(err) {
		t.Error("status must not create the ledger database")
	}

	s, err := store.New(2, [][]float32{{1, 0}, {0, 1}}, []models.ProductRecord{
		models.NewProductRecord(map[string]any{"id": "A", "image": "a.jpg"}),
		models.NewProductRecord(map[string]any{"id": "B", "image": "b.jpg"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(s, storePaths(cfg)); err != nil {
		t.Fatal(err)
	}

	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	run := &models.IngestReport{RunID: "run-1", Total: 3, StartedAt: time.Now()}
	if err := ledger.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	run.Embedded, run.Skipped, run.Status = 2, 1, models.RunStatusSucceeded
	if err := ledger.FinishRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	ledger.Close()

	status = localStatus(context.Background(), cfg)
	if status.StoreError != "" {
		t.Fatalf("store error: %s", status.StoreError)
	}
	if status.Products != 2 || status.Dimensions != 2 {
		t.Errorf("products = %d dims = %d", status.Products, status.Dimensions)
	}
	if len(status.Artifacts) != 3 || !status.Artifacts[0].Exists || !status.Artifacts[1].Exists || !status.Artifacts[2].Exists {
		t.Errorf("artifacts = %+v", status.Artifacts)
	}
	if status.DiskUsageBytes <= 0 {
		t.Errorf("disk usage = %d", status.DiskUsageBytes)
	}
	if status.LatestRun == nil || status.LatestRun.RunID != "run-1" || status.LatestRun.Embedded != 2 {
		t.Errorf("latest run = %+v", status.LatestRun)
	}
}

func TestInitializeComponents_requiresModelOutsideDebug(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Embedding.ModelPath = filepath.Join(dir, "missing.onnx")
	cfg.Embedding.Dimensions = 8

	if _, err := initializeComponents(cfg, zap.NewNop(), false); err == nil {
		t.Fatal("expected error without a model outside debug mode")
	}

	c, err := initializeComponents(cfg, zap.NewNop(), true)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Embedder.Dimensions() != 8 {
		t.Errorf("dims = %d, want 8", c.Embedder.Dimensions())
	}
	if c.Ledger == nil || c.Pipeline == nil || c.Engine == nil || c.Holder == nil || c.Fetcher == nil {
		t.Errorf("components not fully wired: %+v", c)
	}
}
