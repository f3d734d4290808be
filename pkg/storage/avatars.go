package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pair-backend/pkg/config"
	"pair-backend/pkg/constants"
)

// AvatarStore presigns avatar object keys stored in identity rows so
// clients receive fetchable URLs when a roster is materialized.
type AvatarStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewAvatarStore creates an avatar store backed by MinIO
func NewAvatarStore(cfg *config.MinIOConfig) (*AvatarStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &AvatarStore{
		client: client,
		bucket: cfg.Bucket,
		expiry: constants.AvatarURLExpiry,
	}, nil
}

// PresignAvatar returns a time-limited GET URL for the given object key.
// Keys that already look like absolute URLs pass through unchanged so
// externally hosted avatars keep working.
func (s *AvatarStore) PresignAvatar(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	if u, err := url.Parse(key); err == nil && u.Scheme != "" {
		return key, nil
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign avatar %q: %w", key, err)
	}

	return presigned.String(), nil
}
