package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/andyleap/passkey-verifier/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3CredentialStore persists credentials as one JSON object per credential in
// an S3-compatible bucket. Counter updates are serialized with an in-process
// mutex; run a single writer instance against a bucket.
type S3CredentialStore struct {
	client *minio.Client
	bucket string
	mu     sync.Mutex
}

func NewS3CredentialStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3CredentialStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &S3CredentialStore{
		client: client,
		bucket: bucket,
	}, nil
}

func credentialObjectKey(credentialID string) string {
	return fmt.Sprintf("credentials/%s.json", credentialID)
}

func (s *S3CredentialStore) Create(ctx context.Context, credential *models.Credential) error {
	exists, err := s.exists(ctx, credential.CredentialID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateCredential
	}

	return s.put(ctx, credential)
}

func (s *S3CredentialStore) FindByID(ctx context.Context, credentialID string) (*models.Credential, error) {
	object, err := s.client.GetObject(ctx, s.bucket, credentialObjectKey(credentialID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get credential from S3: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read credential data: %w", err)
	}

	var credential models.Credential
	if err := json.Unmarshal(data, &credential); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return &credential, nil
}

func (s *S3CredentialStore) UpdateCounter(ctx context.Context, credentialID string, newCounter uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, err := s.FindByID(ctx, credentialID)
	if err != nil {
		return err
	}

	if credential.Counter >= newCounter {
		return ErrStaleCounter
	}

	credential.Counter = newCounter
	if newCounter > 0 {
		credential.CounterEnabled = true
	}
	credential.UpdatedAt = time.Now()

	return s.put(ctx, credential)
}

func (s *S3CredentialStore) Count(ctx context.Context) (int64, error) {
	var count int64
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    "credentials/",
		Recursive: true,
	}) {
		if object.Err != nil {
			return 0, fmt.Errorf("failed to list credentials: %w", object.Err)
		}
		count++
	}
	return count, nil
}

func (s *S3CredentialStore) put(ctx context.Context, credential *models.Credential) error {
	data, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, credentialObjectKey(credential.CredentialID),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
	if err != nil {
		return fmt.Errorf("failed to save credential to S3: %w", err)
	}

	return nil
}

func (s *S3CredentialStore) exists(ctx context.Context, credentialID string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, credentialObjectKey(credentialID), minio.StatObjectOptions{})
	if err != nil {
		// Check if it's a "not found" error
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check if credential exists: %w", err)
	}

	return true, nil
}
