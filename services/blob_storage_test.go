package services

import (
	"bytes"
	"context"
	"testing"

	"kb-search-platform/internal/config"
)

func newLocalBlobStorage(t *testing.T) *BlobStorage {
	t.Helper()
	s, err := NewBlobStorage(&config.Config{
		FileStorageDir: t.TempDir(),
		S3Bucket:       "kb-documents",
	})
	if err != nil {
		t.Fatalf("NewBlobStorage failed: %v", err)
	}
	return s
}

func TestBlobStorageLocalRoundTrip(t *testing.T) {
	s := newLocalBlobStorage(t)
	ctx := context.Background()

	key := ObjectKey("tenant1", "abc123", "report.pdf")
	content := []byte("%PDF-1.4 fake content")

	if err := s.Store(ctx, key, content, "application/pdf"); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	exists, err := s.Exists(ctx, key)
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true", exists, err)
	}

	got, err := s.Fetch(ctx, key)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("fetched content differs from stored content")
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Deleting again must stay clean
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second Delete returned error: %v", err)
	}

	exists, _ = s.Exists(ctx, key)
	if exists {
		t.Error("object still exists after delete")
	}
}

func TestBlobStorageLocalModeSkipsPresigning(t *testing.T) {
	s := newLocalBlobStorage(t)

	u, err := s.PresignedDownloadURL(context.Background(), "tenants/t/documents/d/file.pdf", "file.pdf")
	if err != nil {
		t.Fatalf("PresignedDownloadURL failed: %v", err)
	}
	if u != "" {
		t.Errorf("expected empty URL in local mode, got %q", u)
	}
}

func TestObjectKeySanitizesFilename(t *testing.T) {
	key := ObjectKey("t1", "d1", "../../../etc/passwd")
	if key != "tenants/t1/documents/d1/passwd" {
		t.Errorf("path traversal not stripped: %s", key)
	}

	key = ObjectKey("t1", "d1", "Q3 report (final).pdf")
	if key != "tenants/t1/documents/d1/Q3_report_final.pdf" {
		t.Errorf("unexpected sanitized key: %s", key)
	}

	key = ObjectKey("t1", "d1", "???")
	if key != "tenants/t1/documents/d1/file" {
		t.Errorf("expected fallback name for unusable filename, got %s", key)
	}
}
