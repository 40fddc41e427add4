package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioSink uploads exports to an S3-compatible bucket.
type MinioSink struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

func NewMinioSink(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioSink, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioSink{
		client: client,
		bucket: bucket,
		logger: slog.Default().With("component", "export", "bucket", bucket),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *MinioSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created export bucket")
	return nil
}

func (s *MinioSink) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	s.logger.Info("export uploaded", "object", info.Key, "size", info.Size)
	return fmt.Sprintf("s3://%s/%s", s.bucket, info.Key), nil
}
