//go:build gcp

package audit

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
)

// GCSRemote stores backups in a Google Cloud Storage bucket.
type GCSRemote struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSRemoteConfig holds configuration for GCSRemote.
type GCSRemoteConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// NewGCSRemote creates a GCS-backed backup store (uses ADC by default).
func NewGCSRemote(ctx context.Context, cfg GCSRemoteConfig) (*GCSRemote, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSRemote{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSRemote) Upload(ctx context.Context, name string, data []byte) error {
	objectPath := s.prefix + name
	w := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed for %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed for %s: %w", objectPath, err)
	}
	return nil
}

func newGCSRemoteFromEnv(ctx context.Context) (RemoteStore, error) {
	bucket := os.Getenv("BACKUP_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("BACKUP_GCS_BUCKET is required for GCS backup storage")
	}
	return NewGCSRemote(ctx, GCSRemoteConfig{
		Bucket: bucket,
		Prefix: os.Getenv("BACKUP_GCS_PREFIX"),
	})
}
