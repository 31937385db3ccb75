package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"kb-search-platform/internal/ai"
	"kb-search-platform/internal/config"
	"kb-search-platform/models"
)

// NoContextAnswer is returned without calling the model when retrieval
// produced nothing. The evaluator treats zero citations as incomplete,
// so this path flows straight into enrichment.
const NoContextAnswer = "I don't have any documents in my knowledge base to answer this question. However, I can search external sources for you!"

// maxContextBlocks caps how many candidates enter the prompt. Retrieval
// may return more for analytics, but past this point extra context adds
// tokens faster than answer quality.
const maxContextBlocks = 10

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// AnswerSynthesizer turns a question plus ranked context into an answer
// with inline numeric citations.
type AnswerSynthesizer struct {
	config *config.Config
	llm    *ai.LLMClient
}

// NewAnswerSynthesizer creates an answer synthesizer.
func NewAnswerSynthesizer(cfg *config.Config, llm *ai.LLMClient) *AnswerSynthesizer {
	return &AnswerSynthesizer{config: cfg, llm: llm}
}

// Synthesize generates the answer. Citations contain only the context
// indices the model actually used, not everything it was shown.
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, question string, candidates []models.RetrievalCandidate) (string, []models.Citation, error) {
	if len(candidates) == 0 {
		return NoContextAnswer, nil, nil
	}

	shown := candidates
	if len(shown) > maxContextBlocks {
		shown = shown[:maxContextBlocks]
	}

	prompt := buildAnswerPrompt(question, shown)

	llmCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.LLMTimeout)*time.Second)
	defer cancel()

	answer, err := s.llm.Complete(llmCtx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("answer generation failed: %w", err)
	}

	return answer, ExtractCitations(answer, shown), nil
}

func buildAnswerPrompt(question string, candidates []models.RetrievalCandidate) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] (Source: %s, p.%s)\n%s\n\n", i+1, sourceLabel(c), positionLabel(c), c.Text)
	}

	return fmt.Sprintf(`You are a helpful assistant that answers questions based strictly on the provided documents.

**Instructions:**
1. Answer the question using ONLY information from the context below
2. Include citation markers [1], [2], etc. in your answer
3. If the context doesn't contain enough information, acknowledge what's missing
4. Be concise but complete

**Context:**
%s
**Question:** %s

**Answer:**`, b.String(), question)
}

// ExtractCitations parses the [n] markers the model emitted and maps
// them back to the candidates shown at those 1-based positions.
// Out-of-range or repeated markers are dropped; output is ordered by
// index so the citation list mirrors the context block order.
func ExtractCitations(answer string, shown []models.RetrievalCandidate) []models.Citation {
	used := map[int]struct{}{}
	for _, match := range citationPattern.FindAllStringSubmatch(answer, -1) {
		idx, err := strconv.Atoi(match[1])
		if err != nil || idx < 1 || idx > len(shown) {
			continue
		}
		used[idx] = struct{}{}
	}

	indices := make([]int, 0, len(used))
	for idx := range used {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	citations := make([]models.Citation, 0, len(indices))
	for _, idx := range indices {
		c := shown[idx-1]
		citations = append(citations, models.Citation{
			Index:      idx,
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Source:     sourceLabel(c),
			Score:      c.AdjustedScore,
		})
	}
	return citations
}

// CitedDocumentIDs returns the distinct document ids behind a citation
// list, in citation order. This is the reference set ratings are
// validated against.
func CitedDocumentIDs(citations []models.Citation) []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, c := range citations {
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		ids = append(ids, c.DocumentID)
	}
	return ids
}

func sourceLabel(c models.RetrievalCandidate) string {
	if c.Filename != "" {
		return c.Filename
	}
	if c.SourceURL != "" {
		return c.SourceURL
	}
	return c.DocumentID
}

func positionLabel(c models.RetrievalCandidate) string {
	if c.Position > 0 {
		return strconv.Itoa(c.Position)
	}
	return "?"
}
