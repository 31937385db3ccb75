package services

import (
	"strings"
	"testing"

	"kb-search-platform/models"
)

func sampleCandidates() []models.RetrievalCandidate {
	return []models.RetrievalCandidate{
		{ChunkID: "d1:chunk_0", DocumentID: "d1", Text: "Sharding splits data.", Filename: "sharding.pdf", Position: 3, AdjustedScore: 0.9},
		{ChunkID: "d1:chunk_4", DocumentID: "d1", Text: "Shard keys decide placement.", Filename: "sharding.pdf", Position: 7, AdjustedScore: 0.8},
		{ChunkID: "d2:chunk_1", DocumentID: "d2", Text: "Replication copies data.", SourceURL: "https://example.com/replication", AdjustedScore: 0.7},
	}
}

func TestExtractCitations(t *testing.T) {
	answer := "Sharding splits data across nodes [1]. The shard key controls placement [2]. See also [2]."
	citations := ExtractCitations(answer, sampleCandidates())

	if len(citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(citations))
	}
	if citations[0].Index != 1 || citations[0].ChunkID != "d1:chunk_0" {
		t.Errorf("citation 1 mismatch: %+v", citations[0])
	}
	if citations[1].Index != 2 || citations[1].ChunkID != "d1:chunk_4" {
		t.Errorf("citation 2 mismatch: %+v", citations[1])
	}
	if citations[0].Source != "sharding.pdf" {
		t.Errorf("expected filename as source, got %s", citations[0].Source)
	}
	if citations[0].Score != 0.9 {
		t.Errorf("citation must carry the adjusted score, got %f", citations[0].Score)
	}
}

func TestExtractCitationsIgnoresOutOfRange(t *testing.T) {
	answer := "Some claim [1], a hallucinated source [7], and zero [0]."
	citations := ExtractCitations(answer, sampleCandidates())

	if len(citations) != 1 {
		t.Fatalf("expected only the valid citation, got %d", len(citations))
	}
	if citations[0].Index != 1 {
		t.Errorf("expected index 1, got %d", citations[0].Index)
	}
}

func TestExtractCitationsNoMarkers(t *testing.T) {
	if citations := ExtractCitations("An answer without any markers.", sampleCandidates()); len(citations) != 0 {
		t.Errorf("expected no citations, got %d", len(citations))
	}
}

func TestCitedDocumentIDsDeduplicates(t *testing.T) {
	answer := "Claim [1] and detail [2] and more [3]."
	citations := ExtractCitations(answer, sampleCandidates())

	ids := CitedDocumentIDs(citations)
	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct documents, got %v", ids)
	}
	if ids[0] != "d1" || ids[1] != "d2" {
		t.Errorf("expected citation-order document ids [d1 d2], got %v", ids)
	}
}

func TestBuildAnswerPromptTagsContexts(t *testing.T) {
	prompt := buildAnswerPrompt("How does sharding work?", sampleCandidates())

	for _, want := range []string{
		"[1] (Source: sharding.pdf, p.3)",
		"[2] (Source: sharding.pdf, p.7)",
		"[3] (Source: https://example.com/replication, p.?)",
		"Sharding splits data.",
		"**Question:** How does sharding work?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	// Context order must match candidate rank order
	if strings.Index(prompt, "[1]") > strings.Index(prompt, "[2]") {
		t.Error("context blocks out of rank order")
	}
}
