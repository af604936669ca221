package attachments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
)

// ObjectStore is the blob storage used for attachment files.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// SignedURL returns a V4 signed URL for method on bucket/object.
	SignedURL(ctx context.Context, bucket, object, method, contentType string, expires time.Time) (string, error)

	// Upload writes r to bucket/object.
	Upload(ctx context.Context, bucket, object, contentType string, r io.Reader) error

	// Download reads the whole object.
	Download(ctx context.Context, bucket, object string) ([]byte, error)
}

// GCSStore is the Google Cloud Storage implementation of ObjectStore.
type GCSStore struct {
	client *storage.Client
}

var _ ObjectStore = (*GCSStore)(nil)

// NewGCSStore creates a store with Application Default Credentials.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close closes the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// SignedURL implements ObjectStore.
func (s *GCSStore) SignedURL(ctx context.Context, bucket, object, method, contentType string, expires time.Time) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: expires,
	}
	if method == http.MethodPut && contentType != "" {
		opts.ContentType = contentType
	}
	url, err := s.client.Bucket(bucket).SignedURL(object, opts)
	if err != nil {
		return "", fmt.Errorf("sign %s gs://%s/%s: %w", method, bucket, object, err)
	}
	return url, nil
}

// Upload implements ObjectStore.
func (s *GCSStore) Upload(ctx context.Context, bucket, object, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Download implements ObjectStore.
func (s *GCSStore) Download(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}
