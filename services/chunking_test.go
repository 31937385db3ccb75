package services

import (
	"strings"
	"testing"
)

func TestChunkDocumentShortText(t *testing.T) {
	cs := NewChunkingService(1000, 150, 100)

	chunks := cs.ChunkDocument("abc123def4567890", "A single short paragraph about caching.")

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ChunkID != "abc123def4567890:chunk_0" {
		t.Errorf("unexpected chunk id: %s", chunks[0].ChunkID)
	}
	if chunks[0].Position != 0 {
		t.Errorf("expected position 0, got %d", chunks[0].Position)
	}
}

func TestChunkDocumentSplitsLongText(t *testing.T) {
	cs := NewChunkingService(1000, 150, 100)

	para := strings.Repeat("Sentences about database indexing strategies. ", 10)
	text := strings.Join([]string{para, para, para, para}, "\n\n")

	chunks := cs.ChunkDocument("doc1", text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for %d chars, got %d", len(text), len(chunks))
	}

	for i, chunk := range chunks {
		if chunk.Order != i {
			t.Errorf("chunk %d has order %d", i, chunk.Order)
		}
		want := "doc1:chunk_" + string(rune('0'+i))
		if chunk.ChunkID != want {
			t.Errorf("chunk %d id = %s, want %s", i, chunk.ChunkID, want)
		}
		if chunk.CharCount != len(chunk.Text) {
			t.Errorf("chunk %d char count mismatch", i)
		}
	}

	// Positions must be non-decreasing so citations can point into the source
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Position < chunks[i-1].Position {
			t.Errorf("positions went backwards: chunk %d at %d, chunk %d at %d",
				i-1, chunks[i-1].Position, i, chunks[i].Position)
		}
	}
}

func TestChunkDocumentDeterministicIDs(t *testing.T) {
	cs := NewChunkingService(1000, 150, 100)
	text := strings.Repeat("Identical content produces identical chunk ids. ", 60)

	first := cs.ChunkDocument("deadbeef00000000", text)
	second := cs.ChunkDocument("deadbeef00000000", text)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ChunkID != second[i].ChunkID {
			t.Errorf("chunk %d ids differ: %s vs %s", i, first[i].ChunkID, second[i].ChunkID)
		}
	}
}

func TestChunkDocumentEmptyText(t *testing.T) {
	cs := NewChunkingService(1000, 150, 100)

	if chunks := cs.ChunkDocument("doc1", ""); len(chunks) != 0 {
		t.Errorf("expected no chunks for empty text, got %d", len(chunks))
	}
	if chunks := cs.ChunkDocument("doc1", "   \n\n   "); len(chunks) != 0 {
		t.Errorf("expected no chunks for whitespace text, got %d", len(chunks))
	}
}

func TestExtractKeywordsFiltersStopWords(t *testing.T) {
	cs := NewChunkingService(1000, 150, 100)

	text := "the cache and the cache and the index index for the"
	keywords := cs.extractKeywords(text, 5)

	for _, kw := range keywords {
		if kw == "the" || kw == "and" || kw == "for" {
			t.Errorf("stop word %q leaked into keywords", kw)
		}
	}

	found := false
	for _, kw := range keywords {
		if kw == "cache" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected repeated term cache in keywords, got %v", keywords)
	}
}
