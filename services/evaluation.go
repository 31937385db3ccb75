package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kb-search-platform/internal/ai"
	"kb-search-platform/internal/config"
	"kb-search-platform/models"
)

// CompletenessEvaluator self-checks an answer against its question and
// context. It never returns an error: when the evaluation call fails the
// verdict is "assume incomplete", because skipping useful enrichment is
// worse than running an unnecessary enrichment pass.
type CompletenessEvaluator struct {
	config *config.Config
	llm    *ai.LLMClient
}

// NewCompletenessEvaluator creates a completeness evaluator.
func NewCompletenessEvaluator(cfg *config.Config, llm *ai.LLMClient) *CompletenessEvaluator {
	return &CompletenessEvaluator{config: cfg, llm: llm}
}

// completenessPayload is the structured shape requested from the model.
type completenessPayload struct {
	Confidence         float64  `json:"confidence"`
	Completeness       float64  `json:"completeness"`
	IsComplete         bool     `json:"is_complete"`
	MissingInformation string   `json:"missing_information"`
	SearchQueries      []string `json:"search_queries"`
}

// Evaluate scores one (question, answer, context) triple.
//
// The confidence in the report blends the model's self-assessment with
// retrieval strength: 0.6 * llm confidence + 0.4 * mean adjusted score
// of the top five candidates. is_complete is always re-derived from the
// completeness fraction and the configured threshold; the model's own
// boolean is advisory only.
func (e *CompletenessEvaluator) Evaluate(ctx context.Context, question, answer string, candidates []models.RetrievalCandidate) models.CompletenessReport {
	if len(candidates) == 0 {
		return models.CompletenessReport{
			IsComplete:         false,
			Completeness:       0,
			Confidence:         0,
			MissingInformation: "no relevant documents in the knowledge base",
		}
	}

	prompt := e.buildPrompt(question, answer)

	llmCtx, cancel := context.WithTimeout(ctx, time.Duration(e.config.LLMTimeout)*time.Second)
	defer cancel()

	var payload completenessPayload
	if err := e.llm.CompleteJSON(llmCtx, prompt, &payload); err != nil {
		fmt.Printf("Completeness evaluation failed, assuming incomplete: %v\n", err)
		return models.CompletenessReport{
			IsComplete:         false,
			Completeness:       0,
			Confidence:         0,
			MissingInformation: "completeness evaluation unavailable",
		}
	}

	completeness := clamp01(payload.Completeness)
	confidence := clamp01(0.6*clamp01(payload.Confidence) + 0.4*avgTopScore(candidates, 5))

	return models.CompletenessReport{
		IsComplete:         e.IsComplete(completeness),
		Completeness:       completeness,
		Confidence:         confidence,
		MissingInformation: strings.TrimSpace(payload.MissingInformation),
		SuggestedQueries:   cleanQueries(payload.SearchQueries),
	}
}

// IsComplete applies the completeness threshold. Exactly at the
// threshold counts as complete.
func (e *CompletenessEvaluator) IsComplete(completeness float64) bool {
	return completeness >= e.config.CompletenessThreshold
}

func (e *CompletenessEvaluator) buildPrompt(question, answer string) string {
	threshold := e.config.CompletenessThreshold
	return fmt.Sprintf(`You are an AI quality checker. Evaluate this Q&A pair for completeness and confidence.

**Question:** %s

**Answer:** %s

**Task:** Return a JSON object with:
{
  "confidence": 0.0-1.0,
  "completeness": 0.0-1.0,
  "is_complete": true/false,
  "missing_information": "what's missing or unclear (null if complete)",
  "search_queries": ["2-3 short search terms (2-4 words each, empty if complete)"]
}

For search_queries: generate SHORT, SIMPLE search terms optimized for web search. Use proper nouns and technical terms, but keep them concise (2-4 words max). Focus on the KEY CONCEPTS that need more information.

Be strict but fair. Mark is_complete=true ONLY if completeness >= %.2f. The answer must fully address the question.`, question, answer, threshold)
}

// avgTopScore averages the adjusted scores of the first n candidates.
func avgTopScore(candidates []models.RetrievalCandidate, n int) float64 {
	if len(candidates) == 0 {
		return 0
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	var sum float64
	for _, c := range candidates[:n] {
		sum += c.AdjustedScore
	}
	return clamp01(sum / float64(n))
}

func cleanQueries(queries []string) []string {
	var out []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
