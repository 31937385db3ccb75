package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kb-search-platform/internal/ai"
	"kb-search-platform/internal/config"
	"kb-search-platform/models"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrRetrievalUnavailable means every expanded query failed at the
// embedding or vector-search step, so there is nothing to rank.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// RetrievalEngine runs the multi-query retrieval pipeline: expand the
// question into query variants, search each concurrently, weight hits
// by document quality, then fuse the lists into one ranked set.
type RetrievalEngine struct {
	config *config.Config
	llm    *ai.LLMClient
	index  *VectorIndex
	ledger *QualityLedger
	cache  *EmbeddingCache
}

// NewRetrievalEngine creates a retrieval engine. cache may be nil.
func NewRetrievalEngine(cfg *config.Config, llm *ai.LLMClient, index *VectorIndex, ledger *QualityLedger, cache *EmbeddingCache) *RetrievalEngine {
	return &RetrievalEngine{
		config: cfg,
		llm:    llm,
		index:  index,
		ledger: ledger,
		cache:  cache,
	}
}

// ExpandQuery returns the original question plus LLM paraphrases, up to
// the configured fan-out. The original is always first. Paraphrase
// failure degrades to the original question alone rather than erroring:
// a single-query retrieval beats no retrieval.
func (e *RetrievalEngine) ExpandQuery(ctx context.Context, question string) []string {
	queries := []string{question}

	fanOut := e.config.QueryFanOut
	if fanOut <= 1 {
		return queries
	}
	want := fanOut - 1

	prompt := fmt.Sprintf(`Rewrite the question below as %d alternative search quer%s that use different wording but keep the exact same meaning. Respond with a JSON array of strings and nothing else.

Question: %s`, want, pluralSuffix(want), question)

	llmCtx, cancel := context.WithTimeout(ctx, time.Duration(e.config.LLMTimeout)*time.Second)
	defer cancel()

	var variants []string
	if err := e.llm.CompleteJSON(llmCtx, prompt, &variants); err != nil {
		fmt.Printf("Query expansion failed, continuing with original only: %v\n", err)
		return queries
	}

	seen := map[string]struct{}{strings.ToLower(strings.TrimSpace(question)): {}}
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, v)
		if len(queries) == fanOut {
			break
		}
	}
	return queries
}

func pluralSuffix(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// Retrieve runs the full pipeline for one question and returns up to
// topK candidates ranked by adjusted score.
func (e *RetrievalEngine) Retrieve(ctx context.Context, db *mongo.Database, question string, topK int) ([]models.RetrievalCandidate, error) {
	if topK <= 0 {
		topK = e.config.RetrievalTopK
	}

	queries := e.ExpandQuery(ctx, question)

	// Each query variant embeds and searches independently; one failing
	// branch only narrows the candidate pool.
	perQuery := make([][]models.ChunkMatch, len(queries))
	errs := make([]error, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			perQuery[i], errs[i] = e.searchOne(ctx, db, q, topK)
		}(i, q)
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			fmt.Printf("Search branch %d failed: %v\n", i, err)
		}
	}
	if failed == len(queries) {
		return nil, fmt.Errorf("%w: all %d query branches failed, last error: %v", ErrRetrievalUnavailable, len(queries), errs[len(errs)-1])
	}

	multipliers, err := e.multipliersFor(ctx, db, perQuery)
	if err != nil {
		// Ledger read failure must not break retrieval; rank neutrally.
		fmt.Printf("Quality ledger lookup failed, using neutral multipliers: %v\n", err)
		multipliers = map[string]float64{}
	}

	fused := fuseCandidates(perQuery, queries, multipliers)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// searchOne embeds one query string and runs the vector search. The
// embedding step consults the cache first to spare the API the same
// question twice.
func (e *RetrievalEngine) searchOne(ctx context.Context, db *mongo.Database, query string, topK int) ([]models.ChunkMatch, error) {
	vector, ok := e.cache.Get(ctx, e.config, query)
	if !ok {
		var err error
		vector, err = ai.GenerateEmbedding(ctx, e.config, query)
		if err != nil {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		e.cache.Put(ctx, e.config, query, vector)
	}
	return e.index.Query(ctx, db, vector, topK)
}

func (e *RetrievalEngine) multipliersFor(ctx context.Context, db *mongo.Database, perQuery [][]models.ChunkMatch) (map[string]float64, error) {
	seen := map[string]struct{}{}
	var docIDs []string
	for _, matches := range perQuery {
		for _, m := range matches {
			if _, ok := seen[m.DocumentID]; ok {
				continue
			}
			seen[m.DocumentID] = struct{}{}
			docIDs = append(docIDs, m.DocumentID)
		}
	}
	return e.ledger.GetMultipliers(ctx, db, docIDs)
}

// fuseCandidates merges per-query result lists keyed by chunk id. A
// chunk hit by several queries keeps its maximum adjusted score and
// records every contributing query. Ties sort by the chunk's rank in
// the original-query list, so the original query wins exact ties over
// its paraphrases.
//
// perQuery[i] belongs to queries[i]; index 0 is the original question.
// Documents absent from multipliers rank neutrally.
func fuseCandidates(perQuery [][]models.ChunkMatch, queries []string, multipliers map[string]float64) []models.RetrievalCandidate {
	byChunk := make(map[string]*models.RetrievalCandidate)
	var order []string

	for qi, matches := range perQuery {
		for _, m := range matches {
			multiplier, ok := multipliers[m.DocumentID]
			if !ok {
				multiplier = 1.0
			}
			adjusted := m.Score * multiplier

			existing, seen := byChunk[m.ChunkID]
			if !seen {
				byChunk[m.ChunkID] = &models.RetrievalCandidate{
					ChunkID:       m.ChunkID,
					DocumentID:    m.DocumentID,
					Text:          m.Text,
					Position:      m.Position,
					SourceURL:     m.SourceURL,
					Filename:      m.Filename,
					RawScore:      m.Score,
					AdjustedScore: adjusted,
					SourceQueries: []string{queries[qi]},
				}
				order = append(order, m.ChunkID)
				continue
			}

			if adjusted > existing.AdjustedScore {
				existing.AdjustedScore = adjusted
				existing.RawScore = m.Score
			}
			existing.SourceQueries = appendUnique(existing.SourceQueries, queries[qi])
		}
	}

	// Rank within the original-query list drives tie-breaks
	originalRank := make(map[string]int)
	if len(perQuery) > 0 {
		for rank, m := range perQuery[0] {
			if _, ok := originalRank[m.ChunkID]; !ok {
				originalRank[m.ChunkID] = rank
			}
		}
	}

	fused := make([]models.RetrievalCandidate, 0, len(byChunk))
	for _, chunkID := range order {
		fused = append(fused, *byChunk[chunkID])
	}

	sortCandidates(fused, originalRank)
	return fused
}

func sortCandidates(fused []models.RetrievalCandidate, originalRank map[string]int) {
	sort.SliceStable(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.AdjustedScore != b.AdjustedScore {
			return a.AdjustedScore > b.AdjustedScore
		}
		ra, aOK := originalRank[a.ChunkID]
		rb, bOK := originalRank[b.ChunkID]
		switch {
		case aOK && bOK:
			return ra < rb
		case aOK:
			return true
		default:
			return false
		}
	})
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if existing == item {
			return items
		}
	}
	return append(items, item)
}
