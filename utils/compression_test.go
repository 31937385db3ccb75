package utils

import (
	"strings"
	"testing"
)

func TestCompressTextRoundTrip(t *testing.T) {
	text := strings.Repeat("retrieval scores are weighted by document quality. ", 40)

	compressed, algo, err := CompressText(text)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if algo != CompressionBrotli {
		t.Errorf("large repetitive text should pick brotli, got %s", algo)
	}
	if len(compressed) >= len(text) {
		t.Errorf("compression did not shrink payload: %d -> %d", len(text), len(compressed))
	}

	out, err := DecompressText(compressed, algo)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if out != text {
		t.Error("round trip altered the text")
	}
}

func TestSmallPayloadsSkipCompression(t *testing.T) {
	compressed, algo, err := CompressText("short chunk")
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if algo != CompressionNone {
		t.Errorf("small payloads should not be compressed, got %s", algo)
	}
	if string(compressed) != "short chunk" {
		t.Error("uncompressed payload should pass through unchanged")
	}
}

func TestUnknownAlgorithmRejected(t *testing.T) {
	if _, err := CompressData([]byte("data"), "snappy"); err == nil {
		t.Error("expected error for unsupported compress algorithm")
	}
	if _, err := DecompressData([]byte("data"), "snappy"); err == nil {
		t.Error("expected error for unsupported decompress algorithm")
	}
}
