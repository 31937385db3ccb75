package services

import (
	"context"
	"fmt"
	"time"

	"kb-search-platform/internal/ai"
	"kb-search-platform/internal/config"
	"kb-search-platform/models"
	"kb-search-platform/utils"

	"go.mongodb.org/mongo-driver/mongo"
)

// Stage seams. Each pipeline stage is consumed through the narrowest
// interface the orchestrator needs, so stages can be swapped in tests.
type retriever interface {
	Retrieve(ctx context.Context, db *mongo.Database, question string, topK int) ([]models.RetrievalCandidate, error)
}

type answerer interface {
	Synthesize(ctx context.Context, question string, candidates []models.RetrievalCandidate) (string, []models.Citation, error)
}

type completenessJudge interface {
	Evaluate(ctx context.Context, question, answer string, candidates []models.RetrievalCandidate) models.CompletenessReport
}

type enricher interface {
	Enrich(ctx context.Context, lookup documentLookup, question, missingInfo string, suggested []string) *models.EnrichmentResult
}

type queryRecorder interface {
	RecordQuery(ctx context.Context, db *mongo.Database, record *models.QueryAnalytics) error
}

// QueryOrchestrator drives one question through retrieval, synthesis,
// evaluation and optional enrichment. Each request is an independent
// state machine instance; the only state shared between concurrent
// requests lives in the database.
type QueryOrchestrator struct {
	config      *config.Config
	retrieval   retriever
	synthesizer answerer
	evaluator   completenessJudge
	enrichment  enricher
	analytics   queryRecorder
}

// NewQueryOrchestrator wires the full answer pipeline.
func NewQueryOrchestrator(cfg *config.Config, llm *ai.LLMClient, index *VectorIndex, ledger *QualityLedger, analytics *AnalyticsService, embedCache *EmbeddingCache) *QueryOrchestrator {
	return &QueryOrchestrator{
		config:      cfg,
		retrieval:   NewRetrievalEngine(cfg, llm, index, ledger, embedCache),
		synthesizer: NewAnswerSynthesizer(cfg, llm),
		evaluator:   NewCompletenessEvaluator(cfg, llm),
		enrichment:  NewEnrichmentOrchestrator(cfg),
		analytics:   analytics,
	}
}

// Answer runs the state machine for one question:
//
//	received -> retrieving -> synthesizing -> evaluating -> (complete | enriching) -> done
//
// Retrieval and synthesis failures terminate in failed and surface as
// errors. Evaluation and enrichment never fail the request. Exactly one
// analytics event is recorded per request, and only on the done edge.
func (o *QueryOrchestrator) Answer(ctx context.Context, db *mongo.Database, tenantID, question, clientIP string, topK int) (*models.AnswerResult, error) {
	queryID := utils.QueryID()
	start := time.Now()
	state := models.StateReceived

	if topK <= 0 {
		topK = o.config.RetrievalTopK
	}

	state = o.advance(queryID, state, models.StateRetrieving)
	candidates, err := o.retrieval.Retrieve(ctx, db, question, topK)
	if err != nil {
		o.fail(queryID, state, start, err)
		return nil, err
	}

	state = o.advance(queryID, state, models.StateSynthesizing)
	answer, citations, err := o.synthesizer.Synthesize(ctx, question, candidates)
	if err != nil {
		o.fail(queryID, state, start, err)
		return nil, err
	}
	if citations == nil {
		citations = []models.Citation{}
	}

	state = o.advance(queryID, state, models.StateEvaluating)
	report := o.evaluator.Evaluate(ctx, question, answer, candidates)

	var enriched *models.EnrichmentResult
	if report.IsComplete {
		state = o.advance(queryID, state, models.StateComplete)
	} else {
		state = o.advance(queryID, state, models.StateEnriching)
		enriched = o.enrichment.Enrich(ctx, NewSourceLookup(db), question, report.MissingInformation, report.SuggestedQueries)
	}

	// A disconnected caller gets no done edge and no analytics event.
	if ctx.Err() != nil {
		o.fail(queryID, state, start, ctx.Err())
		return nil, ctx.Err()
	}

	o.advance(queryID, state, models.StateDone)
	latency := time.Since(start).Milliseconds()

	result := &models.AnswerResult{
		QueryID:            queryID,
		Question:           question,
		Answer:             answer,
		Citations:          citations,
		CandidateCount:     len(candidates),
		Completeness:       report.Completeness,
		Confidence:         report.Confidence,
		IsComplete:         report.IsComplete,
		MissingInformation: report.MissingInformation,
		SuggestedQueries:   report.SuggestedQueries,
		Enrichment:         enriched,
		LatencyMS:          latency,
	}

	record := &models.QueryAnalytics{
		QueryID:              queryID,
		TenantID:             tenantID,
		Question:             question,
		AnswerHash:           HashAnswer(answer),
		AnswerLength:         len(answer),
		CitedDocumentIDs:     CitedDocumentIDs(citations),
		RetrievedDocumentIDs: retrievedDocumentIDs(candidates),
		CandidateCount:       len(candidates),
		Completeness:         report.Completeness,
		Confidence:           report.Confidence,
		EnrichmentPerformed:  enriched != nil && enriched.Performed,
		LatencyMS:            latency,
		ClientIP:             clientIP,
		CreatedAt:            time.Now().UTC(),
	}
	if err := o.analytics.RecordQuery(ctx, db, record); err != nil {
		// The answer is already assembled; losing one analytics row is
		// not worth failing the request over.
		fmt.Printf("⚠️ Query %s: analytics write failed: %v\n", queryID, err)
	}

	fmt.Printf("✅ Query %s answered in %dms (completeness %.2f, %d citations)\n", queryID, latency, report.Completeness, len(citations))
	return result, nil
}

func (o *QueryOrchestrator) advance(queryID, from, to string) string {
	fmt.Printf("🔄 Query %s: %s -> %s\n", queryID, from, to)
	return to
}

// retrievedDocumentIDs collects the distinct documents behind the fused
// candidate set, in rank order.
func retrievedDocumentIDs(candidates []models.RetrievalCandidate) []string {
	ids := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			ids = append(ids, c.DocumentID)
		}
	}
	return ids
}

func (o *QueryOrchestrator) fail(queryID, from string, start time.Time, err error) {
	fmt.Printf("❌ Query %s: %s -> %s after %dms: %v\n", queryID, from, models.StateFailed, time.Since(start).Milliseconds(), err)
}
