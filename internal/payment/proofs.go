package payment

import (
	"context"
	"time"

	"github.com/minio/minio-go/v7"
)

const ProofUploadTTL = 15 * time.Minute

// ProofStore stocke les justificatifs de virement envoyés par les clients.
type ProofStore interface {
	PresignUpload(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type MinioProofStore struct {
	client *minio.Client
	bucket string
}

func NewMinioProofStore(client *minio.Client, bucket string) *MinioProofStore {
	return &MinioProofStore{client: client, bucket: bucket}
}

func (s *MinioProofStore) PresignUpload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *MinioProofStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, err
}
