package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kb-search-platform/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobStorage keeps the original uploaded files. With S3 credentials
// configured it writes to an S3-compatible bucket (MinIO in dev);
// without them it falls back to local disk under FileStorageDir so a
// single-node deployment needs no object store.
type BlobStorage struct {
	client    *minio.Client // nil in local-disk mode
	bucket    string
	localDir  string
	urlExpiry time.Duration
}

// NewBlobStorage creates the storage backend and ensures the bucket
// (or local directory) exists.
func NewBlobStorage(cfg *config.Config) (*BlobStorage, error) {
	s := &BlobStorage{
		bucket:    cfg.S3Bucket,
		localDir:  cfg.FileStorageDir,
		urlExpiry: time.Duration(cfg.S3URLExpiryMin) * time.Minute,
	}

	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		if err := os.MkdirAll(s.localDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		fmt.Printf("📁 Blob storage: local disk at %s\n", s.localDir)
		return s, nil
	}

	endpoint := strings.TrimPrefix(cfg.S3Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	s.client = client

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	fmt.Printf("📦 Blob storage: bucket %s at %s\n", s.bucket, endpoint)
	return s, nil
}

func (s *BlobStorage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil {
		// Another instance may have created it between the check and here
		errStr := err.Error()
		if strings.Contains(errStr, "BucketAlreadyExists") || strings.Contains(errStr, "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ObjectKey builds the canonical location for a document's original file.
func ObjectKey(tenantID, documentID, filename string) string {
	return fmt.Sprintf("tenants/%s/documents/%s/%s", tenantID, documentID, sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// Store writes the file content under the given object key.
func (s *BlobStorage) Store(ctx context.Context, objectKey string, content []byte, contentType string) error {
	if s.client == nil {
		path := filepath.Join(s.localDir, filepath.FromSlash(objectKey))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create storage path: %w", err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		return nil
	}

	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", objectKey, err)
	}
	return nil
}

// Fetch reads a stored file back into memory.
func (s *BlobStorage) Fetch(ctx context.Context, objectKey string) ([]byte, error) {
	if s.client == nil {
		path := filepath.Join(s.localDir, filepath.FromSlash(objectKey))
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return content, nil
	}

	object, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", objectKey, err)
	}
	defer object.Close()

	content, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", objectKey, err)
	}
	return content, nil
}

// Delete removes a stored file. Missing files are not an error so
// document deletion stays idempotent.
func (s *BlobStorage) Delete(ctx context.Context, objectKey string) error {
	if s.client == nil {
		path := filepath.Join(s.localDir, filepath.FromSlash(objectKey))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file: %w", err)
		}
		return nil
	}

	return s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{})
}

// Exists reports whether an object is present.
func (s *BlobStorage) Exists(ctx context.Context, objectKey string) (bool, error) {
	if s.client == nil {
		_, err := os.Stat(filepath.Join(s.localDir, filepath.FromSlash(objectKey)))
		if os.IsNotExist(err) {
			return false, nil
		}
		return err == nil, err
	}

	_, err := s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PresignedDownloadURL returns a time-limited direct download link.
// In local-disk mode there is no presigning, so it returns empty and
// the handler streams the file itself.
func (s *BlobStorage) PresignedDownloadURL(ctx context.Context, objectKey, downloadName string) (string, error) {
	if s.client == nil {
		return "", nil
	}

	params := make(url.Values)
	if downloadName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.urlExpiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign download for %s: %w", objectKey, err)
	}
	return u.String(), nil
}
