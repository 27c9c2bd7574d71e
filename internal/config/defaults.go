package config

import "time"

// DefaultSimilarityThreshold is the minimum cosine similarity a product needs to be returned.
const DefaultSimilarityThreshold = 0.70

// ApplyDefaults sets default values for any zero values in cfg.
//
// A similarity_threshold of exactly 0 in YAML cannot be told apart from an unset one and
// is replaced by the default; use VISMATCH_THRESHOLD=0 to search without a floor.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.EmbeddingsPath == "" {
		cfg.Storage.EmbeddingsPath = "/usr/local/var/vismatch/data/embeddings.npy"
	}
	if cfg.Storage.ProductsPath == "" {
		cfg.Storage.ProductsPath = "/usr/local/var/vismatch/data/valid_products.json"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/vismatch/data/db/runs.db"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/vismatch/data/models/clip-vit-base-patch32-vision.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Search.SimilarityThreshold == 0 {
		cfg.Search.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.FetchTimeout == 0 {
		cfg.Ingest.FetchTimeout = 10 * time.Second
	}
	if cfg.Ingest.Retries == 0 {
		cfg.Ingest.Retries = 2
	}
	if cfg.Ingest.UserAgent == "" {
		cfg.Ingest.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
	}
	if cfg.Ingest.MaxImageBytes == 0 {
		cfg.Ingest.MaxImageBytes = 20 << 20
	}
}
