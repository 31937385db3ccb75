package services

import (
	"context"
	"math"
	"testing"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"
)

func newTestEvaluator() *CompletenessEvaluator {
	return NewCompletenessEvaluator(&config.Config{
		CompletenessThreshold: 0.85,
		LLMTimeout:            5,
	}, nil)
}

func TestIsCompleteThreshold(t *testing.T) {
	e := newTestEvaluator()

	if !e.IsComplete(0.85) {
		t.Error("completeness exactly at the threshold must count as complete")
	}
	if e.IsComplete(0.84999) {
		t.Error("completeness just under the threshold must count as incomplete")
	}
	if !e.IsComplete(1.0) {
		t.Error("full completeness must count as complete")
	}
	if e.IsComplete(0) {
		t.Error("zero completeness must count as incomplete")
	}
}

func TestEvaluateZeroCandidatesShortCircuits(t *testing.T) {
	// nil llm client: the zero-candidate path must not touch the model
	e := newTestEvaluator()

	report := e.Evaluate(context.Background(), "any question", NoContextAnswer, nil)

	if report.IsComplete {
		t.Error("zero candidates must always be incomplete")
	}
	if report.Completeness != 0 || report.Confidence != 0 {
		t.Errorf("expected zero scores, got completeness=%f confidence=%f", report.Completeness, report.Confidence)
	}
	if report.MissingInformation == "" {
		t.Error("expected a diagnostic missing_information")
	}
}

func TestEvaluateFailureAssumesIncomplete(t *testing.T) {
	// nil llm client makes the evaluation call fail; the verdict must be
	// "assume incomplete" so enrichment still gets its chance.
	e := newTestEvaluator()
	candidates := []models.RetrievalCandidate{{AdjustedScore: 0.9}}

	report := e.Evaluate(context.Background(), "question", "an answer [1]", candidates)

	if report.IsComplete {
		t.Error("a failed evaluation must not report complete")
	}
	if report.Completeness != 0 || report.Confidence != 0 {
		t.Errorf("expected zero scores, got completeness=%f confidence=%f", report.Completeness, report.Confidence)
	}
	if report.MissingInformation == "" {
		t.Error("expected a diagnostic missing_information")
	}
}

func TestAvgTopScore(t *testing.T) {
	candidates := []models.RetrievalCandidate{
		{AdjustedScore: 0.9}, {AdjustedScore: 0.8}, {AdjustedScore: 0.7},
		{AdjustedScore: 0.6}, {AdjustedScore: 0.5}, {AdjustedScore: 0.1},
	}

	// Only the top five enter the average
	got := avgTopScore(candidates, 5)
	if math.Abs(got-0.7) > 1e-9 {
		t.Errorf("avgTopScore = %f, want 0.7", got)
	}

	// Fewer candidates than n averages what exists
	got = avgTopScore(candidates[:2], 5)
	if math.Abs(got-0.85) > 1e-9 {
		t.Errorf("avgTopScore over 2 = %f, want 0.85", got)
	}

	if avgTopScore(nil, 5) != 0 {
		t.Error("empty candidate list should average to 0")
	}
}

func TestClamp01(t *testing.T) {
	cases := map[float64]float64{-0.5: 0, 0: 0, 0.42: 0.42, 1: 1, 1.7: 1}
	for in, want := range cases {
		if got := clamp01(in); got != want {
			t.Errorf("clamp01(%f) = %f, want %f", in, got, want)
		}
	}
}
