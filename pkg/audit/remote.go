package audit

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// RemoteStore uploads backup files to off-host storage.
type RemoteStore interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// S3Remote stores backups in an S3 bucket under an optional key prefix.
type S3Remote struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3RemoteConfig holds configuration for S3Remote.
type S3RemoteConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// NewS3Remote creates an S3-backed backup store.
func NewS3Remote(ctx context.Context, cfg S3RemoteConfig) (*S3Remote, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Remote{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Remote) Upload(ctx context.Context, name string, data []byte) error {
	key := s.prefix + name
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed for %s: %w", key, err)
	}
	return nil
}

// NewRemoteFromEnv creates a remote backup store based on environment
// variables, or nil when off-host backups are not configured.
//
// Environment variables:
//   - BACKUP_STORAGE_TYPE: "" (disabled, default), "s3", or "gcs"
//
// For S3:
//   - BACKUP_S3_BUCKET (required)
//   - AWS_REGION or BACKUP_S3_REGION
//   - BACKUP_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - BACKUP_S3_PREFIX (optional)
//
// For GCS:
//   - BACKUP_GCS_BUCKET (required)
//   - BACKUP_GCS_PREFIX (optional)
func NewRemoteFromEnv(ctx context.Context) (RemoteStore, error) {
	switch os.Getenv("BACKUP_STORAGE_TYPE") {
	case "":
		return nil, nil
	case "s3":
		return newS3RemoteFromEnv(ctx)
	case "gcs":
		return newGCSRemoteFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported backup storage type: %s", os.Getenv("BACKUP_STORAGE_TYPE"))
	}
}

func newS3RemoteFromEnv(ctx context.Context) (RemoteStore, error) {
	bucket := os.Getenv("BACKUP_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("BACKUP_S3_BUCKET is required for S3 backup storage")
	}
	region := os.Getenv("BACKUP_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	return NewS3Remote(ctx, S3RemoteConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("BACKUP_S3_ENDPOINT"),
		Prefix:   os.Getenv("BACKUP_S3_PREFIX"),
	})
}
