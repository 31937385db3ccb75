package services

import (
	"strings"
	"testing"

	"kb-search-platform/internal/config"
	"kb-search-platform/utils"
)

func newTestDocumentService() *DocumentService {
	cfg := &config.Config{
		MaxFileSize:  10 << 20,
		AllowedTypes: []string{"application/pdf", "text/plain", "text/markdown", "text/html"},
		MaxChunkSize: 1000,
		ChunkOverlap: 150,
	}
	return NewDocumentService(cfg, &BlobStorage{localDir: "."})
}

func TestDocumentIDDeterministic(t *testing.T) {
	a := utils.DocumentID("Caching reduces tail latency.")
	b := utils.DocumentID("Caching reduces tail latency.")

	if a != b {
		t.Errorf("same content produced different ids: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d: %s", len(a), a)
	}
	for _, r := range a {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			t.Errorf("non-hex character %c in id %s", r, a)
		}
	}

	if utils.DocumentID("different content") == a {
		t.Error("different content produced the same id")
	}
}

func TestValidateUpload(t *testing.T) {
	s := newTestDocumentService()

	if err := s.ValidateUpload("report.pdf", 1024, "application/pdf"); err != nil {
		t.Errorf("valid upload rejected: %v", err)
	}
	if err := s.ValidateUpload("notes.txt", 1024, ""); err != nil {
		t.Errorf("upload without content type rejected: %v", err)
	}
	if err := s.ValidateUpload("data.pdf", 1024, "application/octet-stream"); err != nil {
		t.Errorf("octet-stream upload with known extension rejected: %v", err)
	}

	if err := s.ValidateUpload("report.pdf", 0, "application/pdf"); err == nil {
		t.Error("empty file accepted")
	}
	if err := s.ValidateUpload("report.pdf", 11<<20, "application/pdf"); err == nil {
		t.Error("oversized file accepted")
	}
	if err := s.ValidateUpload("../escape.pdf", 1024, "application/pdf"); err == nil {
		t.Error("path traversal filename accepted")
	}
	if err := s.ValidateUpload("malware.exe", 1024, "application/pdf"); err == nil {
		t.Error("unsupported extension accepted")
	}
	if err := s.ValidateUpload(strings.Repeat("a", 300)+".pdf", 1024, "application/pdf"); err == nil {
		t.Error("overlong filename accepted")
	}
	if err := s.ValidateUpload("page.html", 1024, "video/mp4"); err == nil {
		t.Error("disallowed content type accepted")
	}
}
