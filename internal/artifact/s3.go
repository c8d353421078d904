package artifact

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"imageforge/internal/config"
)

// S3Store keeps artifacts in an S3-compatible object store (MinIO or any
// S3 endpoint). The object URL doubles as the result_ref.
type S3Store struct {
	client *minio.Client
	bucket string
	useSSL bool
	host   string
}

// NewS3Store connects to the configured object store and ensures the bucket
// exists
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &S3Store{
		client: client,
		bucket: cfg.S3Bucket,
		useSSL: cfg.S3UseSSL,
		host:   cfg.S3Endpoint,
	}, nil
}

// Save uploads the artifact and returns its object URL
func (s *S3Store) Save(ctx context.Context, name string, data []byte) (string, error) {
	objectName := uniqueName(name)
	_, err := s.client.PutObject(ctx, s.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.host, s.bucket, objectName), nil
}
