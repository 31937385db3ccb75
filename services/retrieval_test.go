package services

import (
	"math"
	"testing"

	"kb-search-platform/models"
)

func TestFuseCandidatesDeduplicatesByMaxScore(t *testing.T) {
	queries := []string{"how does sharding work", "what is database sharding"}
	perQuery := [][]models.ChunkMatch{
		{
			{ChunkID: "d1:chunk_0", DocumentID: "d1", Text: "c1", Score: 0.9},
			{ChunkID: "d1:chunk_1", DocumentID: "d1", Text: "c2", Score: 0.7},
		},
		{
			{ChunkID: "d1:chunk_0", DocumentID: "d1", Text: "c1", Score: 0.85},
		},
	}

	fused := fuseCandidates(perQuery, queries, map[string]float64{"d1": 1.0})

	if len(fused) != 2 {
		t.Fatalf("expected 2 fused candidates, got %d", len(fused))
	}
	if fused[0].ChunkID != "d1:chunk_0" {
		t.Errorf("expected c1 first, got %s", fused[0].ChunkID)
	}
	if math.Abs(fused[0].AdjustedScore-0.9) > 1e-9 {
		t.Errorf("duplicate chunk should keep max score 0.9, got %f", fused[0].AdjustedScore)
	}
	if len(fused[0].SourceQueries) != 2 {
		t.Errorf("expected both queries recorded for the duplicate, got %v", fused[0].SourceQueries)
	}
	if fused[1].ChunkID != "d1:chunk_1" {
		t.Errorf("expected c2 second, got %s", fused[1].ChunkID)
	}
	if len(fused[1].SourceQueries) != 1 || fused[1].SourceQueries[0] != queries[0] {
		t.Errorf("expected only the original query for c2, got %v", fused[1].SourceQueries)
	}
}

func TestFuseCandidatesAppliesQualityMultiplier(t *testing.T) {
	queries := []string{"q"}
	perQuery := [][]models.ChunkMatch{
		{
			{ChunkID: "bad:chunk_0", DocumentID: "bad", Score: 0.8},
			{ChunkID: "good:chunk_0", DocumentID: "good", Score: 0.75},
		},
	}
	multipliers := map[string]float64{"bad": 0.9, "good": 1.1}

	fused := fuseCandidates(perQuery, queries, multipliers)

	var bad, good models.RetrievalCandidate
	for _, c := range fused {
		switch c.DocumentID {
		case "bad":
			bad = c
		case "good":
			good = c
		}
	}

	if math.Abs(bad.AdjustedScore-0.72) > 1e-9 {
		t.Errorf("downrated document: adjusted = %f, want 0.72", bad.AdjustedScore)
	}
	if math.Abs(bad.RawScore-0.8) > 1e-9 {
		t.Errorf("raw score must survive adjustment, got %f", bad.RawScore)
	}
	if math.Abs(good.AdjustedScore-0.825) > 1e-9 {
		t.Errorf("uprated document: adjusted = %f, want 0.825", good.AdjustedScore)
	}

	// 0.825 > 0.72, so the uprated document now ranks first
	if fused[0].DocumentID != "good" {
		t.Errorf("expected quality adjustment to reorder results, got %s first", fused[0].DocumentID)
	}
}

func TestFuseCandidatesUnknownDocumentIsNeutral(t *testing.T) {
	fused := fuseCandidates(
		[][]models.ChunkMatch{{{ChunkID: "x:chunk_0", DocumentID: "x", Score: 0.5}}},
		[]string{"q"},
		map[string]float64{},
	)

	if math.Abs(fused[0].AdjustedScore-0.5) > 1e-9 {
		t.Errorf("document without ledger entry should rank neutrally, got %f", fused[0].AdjustedScore)
	}
}

func TestFuseCandidatesTieBreaksByOriginalRank(t *testing.T) {
	queries := []string{"original", "variant"}
	perQuery := [][]models.ChunkMatch{
		{
			{ChunkID: "a", DocumentID: "d", Score: 0.8},
			{ChunkID: "b", DocumentID: "d", Score: 0.8},
		},
		{
			// Variant-only hit with the same score must not outrank
			// chunks the original query found.
			{ChunkID: "c", DocumentID: "d", Score: 0.8},
		},
	}

	fused := fuseCandidates(perQuery, queries, nil)

	if len(fused) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(fused))
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if fused[i].ChunkID != id {
			t.Errorf("position %d: got %s, want %s (ties must follow original-query order)", i, fused[i].ChunkID, id)
		}
	}
}

func TestFuseCandidatesEmptyBranches(t *testing.T) {
	fused := fuseCandidates([][]models.ChunkMatch{{}, {}}, []string{"a", "b"}, nil)
	if len(fused) != 0 {
		t.Errorf("expected no candidates from empty branches, got %d", len(fused))
	}

	// One empty branch degrades to the surviving branch
	fused = fuseCandidates(
		[][]models.ChunkMatch{{}, {{ChunkID: "v", DocumentID: "d", Score: 0.6}}},
		[]string{"a", "b"},
		nil,
	)
	if len(fused) != 1 || fused[0].ChunkID != "v" {
		t.Errorf("surviving branch results lost in fusion: %+v", fused)
	}
}
