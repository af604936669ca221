// Package attachments issues upload and download links for files attached to
// transactions. Objects live under u_<userId>/<txnId>/<filename>.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
)

// DefaultExpiry is how long a signed link stays valid.
const DefaultExpiry = 5 * time.Minute

// TransactionGetter looks up the transaction an attachment belongs to.
type TransactionGetter interface {
	GetTransaction(ctx context.Context, userID, txnID string) (*domain.Transaction, error)
}

// Link is a signed URL for one attachment object.
type Link struct {
	URL       string    `json:"url"`
	ObjectKey string    `json:"objectKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service signs attachment links after checking the owning transaction.
type Service struct {
	txns    TransactionGetter
	objects ObjectStore
	bucket  string
	expiry  time.Duration
	now     func() time.Time
}

// New creates a Service. An empty bucket disables attachments.
func New(txns TransactionGetter, objects ObjectStore, bucket string) *Service {
	return &Service{
		txns:    txns,
		objects: objects,
		bucket:  bucket,
		expiry:  DefaultExpiry,
		now:     time.Now,
	}
}

// ErrDisabled is returned when no bucket is configured.
var ErrDisabled = errors.New("attachments are not configured")

// ObjectKey returns the storage key for an attachment.
func ObjectKey(userID, txnID, filename string) string {
	return fmt.Sprintf("u_%s/%s/%s", userID, txnID, filename)
}

// CleanFilename keeps only the base name of filename.
func CleanFilename(filename string) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", apperr.Validation("filename is required")
	}
	return name, nil
}

// PresignUpload returns a PUT link for a new attachment of txnID.
func (s *Service) PresignUpload(ctx context.Context, userID, txnID, filename, contentType string) (*Link, error) {
	key, err := s.resolve(ctx, userID, txnID, filename)
	if err != nil {
		return nil, err
	}
	return s.sign(ctx, key, http.MethodPut, contentType)
}

// PresignDownload returns a GET link for an existing attachment of txnID.
func (s *Service) PresignDownload(ctx context.Context, userID, txnID, filename string) (*Link, error) {
	key, err := s.resolve(ctx, userID, txnID, filename)
	if err != nil {
		return nil, err
	}
	return s.sign(ctx, key, http.MethodGet, "")
}

// Upload stores r as an attachment of txnID and returns its object key.
func (s *Service) Upload(ctx context.Context, userID, txnID, filename, contentType string, r io.Reader) (string, error) {
	key, err := s.resolve(ctx, userID, txnID, filename)
	if err != nil {
		return "", err
	}
	if err := s.objects.Upload(ctx, s.bucket, key, contentType, r); err != nil {
		return "", apperr.Dependency("Attachment upload failed", err)
	}
	return key, nil
}

// Download reads an attachment of txnID.
func (s *Service) Download(ctx context.Context, userID, txnID, filename string) ([]byte, error) {
	key, err := s.resolve(ctx, userID, txnID, filename)
	if err != nil {
		return nil, err
	}
	data, err := s.objects.Download(ctx, s.bucket, key)
	if err != nil {
		return nil, apperr.Dependency("Attachment download failed", err)
	}
	return data, nil
}

func (s *Service) resolve(ctx context.Context, userID, txnID, filename string) (string, error) {
	if s.bucket == "" || s.objects == nil {
		return "", apperr.Dependency("Attachments unavailable", ErrDisabled)
	}
	txnID = strings.TrimSpace(txnID)
	if txnID == "" {
		return "", apperr.Validation("txnId is required")
	}
	name, err := CleanFilename(filename)
	if err != nil {
		return "", err
	}
	if _, err := s.txns.GetTransaction(ctx, userID, txnID); err != nil {
		return "", err
	}
	return ObjectKey(userID, txnID, name), nil
}

func (s *Service) sign(ctx context.Context, key, method, contentType string) (*Link, error) {
	expires := s.now().Add(s.expiry)
	url, err := s.objects.SignedURL(ctx, s.bucket, key, method, contentType, expires)
	if err != nil {
		return nil, apperr.Dependency("Could not sign attachment URL", err)
	}
	return &Link{URL: url, ObjectKey: key, ExpiresAt: expires.UTC()}, nil
}
