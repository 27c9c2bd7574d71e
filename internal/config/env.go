package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override file configuration.
const (
	EnvPort           = "PORT"
	EnvThreshold      = "VISMATCH_THRESHOLD"
	EnvModelPath      = "VISMATCH_MODEL_PATH"
	EnvCatalog        = "VISMATCH_CATALOG"
	EnvMinioEndpoint  = "MINIO_ENDPOINT"
	EnvMinioAccessKey = "MINIO_ACCESS_KEY"
	EnvMinioSecretKey = "MINIO_SECRET_KEY"
)

// LoadDotEnv reads a .env file into the process environment if one exists.
// Variables already set in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with values from the environment.
func ApplyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv(EnvThreshold); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvThreshold, v, err)
		}
		cfg.Search.SimilarityThreshold = t
	}
	if v := os.Getenv(EnvModelPath); v != "" {
		cfg.Embedding.ModelPath = v
	}
	if v := os.Getenv(EnvCatalog); v != "" {
		cfg.Ingest.CatalogPath = v
	}
	if v := os.Getenv(EnvMinioEndpoint); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv(EnvMinioAccessKey); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv(EnvMinioSecretKey); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	return nil
}
