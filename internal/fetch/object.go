package fetch

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperjump/vismatch/internal/config"
)

// ObjectGetter reads objects from an S3-compatible store.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// MinioObjects implements ObjectGetter with a MinIO client.
type MinioObjects struct {
	client *minio.Client
}

// NewMinioObjects creates a MinIO-backed ObjectGetter from object store settings.
func NewMinioObjects(cfg *config.ObjectStoreConfig) (*MinioObjects, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioObjects{client: client}, nil
}

// GetObject opens bucket/key. A missing object surfaces as an error on first read,
// so the object is stat'ed first to fail fast.
func (m *MinioObjects) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}
