// Package config provides configuration loading and structs for vismatch.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Search      SearchConfig      `yaml:"search"`
	Ingest      IngestConfig      `yaml:"ingest"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for the embedding store artifacts and the run ledger.
type StorageConfig struct {
	EmbeddingsPath string `yaml:"embeddings_path"`
	ProductsPath   string `yaml:"products_path"`
	DatabasePath   string `yaml:"database_path"`
}

// EmbeddingConfig holds ONNX image embedder settings.
type EmbeddingConfig struct {
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"dimensions"`
	ImageSize  int           `yaml:"image_size"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// MaxResults caps returned matches; 0 means no cap.
	MaxResults int `yaml:"max_results"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	CatalogPath   string        `yaml:"catalog_path"`
	Workers       int           `yaml:"workers"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	Retries       int           `yaml:"retries"`
	UserAgent     string        `yaml:"user_agent"`
	MaxImageBytes int64         `yaml:"max_image_bytes"`
}

// ObjectStoreConfig holds S3-compatible object storage settings for s3:// image locators.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// Enabled reports whether an object store endpoint is configured.
func (o *ObjectStoreConfig) Enabled() bool {
	return o.Endpoint != ""
}

// WatchConfig controls hot reload of the embedding store.
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, expands paths, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.EmbeddingsPath = expandPath(cfg.Storage.EmbeddingsPath, configDir)
	cfg.Storage.ProductsPath = expandPath(cfg.Storage.ProductsPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Ingest.CatalogPath != "" {
		cfg.Ingest.CatalogPath = expandPath(cfg.Ingest.CatalogPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	t := c.Search.SimilarityThreshold
	if math.IsNaN(t) || t < -1 || t > 1 {
		return fmt.Errorf("invalid config: similarity_threshold %v outside [-1, 1]", t)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("invalid config: embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("invalid config: ingest workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Storage.EmbeddingsPath == c.Storage.ProductsPath {
		return fmt.Errorf("invalid config: embeddings_path and products_path must differ")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
