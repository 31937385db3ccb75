package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"

	"go.mongodb.org/mongo-driver/mongo"
)

type fakeRetriever struct {
	candidates []models.RetrievalCandidate
	err        error
	gotTopK    int
	calls      int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, db *mongo.Database, question string, topK int) ([]models.RetrievalCandidate, error) {
	f.calls++
	f.gotTopK = topK
	return f.candidates, f.err
}

type fakeAnswerer struct {
	answer    string
	citations []models.Citation
	err       error
	calls     int
}

func (f *fakeAnswerer) Synthesize(ctx context.Context, question string, candidates []models.RetrievalCandidate) (string, []models.Citation, error) {
	f.calls++
	return f.answer, f.citations, f.err
}

type fakeJudge struct {
	report models.CompletenessReport
	calls  int
}

func (f *fakeJudge) Evaluate(ctx context.Context, question, answer string, candidates []models.RetrievalCandidate) models.CompletenessReport {
	f.calls++
	return f.report
}

type fakeEnricher struct {
	result       *models.EnrichmentResult
	calls        int
	gotMissing   string
	gotSuggested []string
}

func (f *fakeEnricher) Enrich(ctx context.Context, lookup documentLookup, question, missingInfo string, suggested []string) *models.EnrichmentResult {
	f.calls++
	f.gotMissing = missingInfo
	f.gotSuggested = suggested
	return f.result
}

type fakeRecorder struct {
	records []*models.QueryAnalytics
	err     error
}

func (f *fakeRecorder) RecordQuery(ctx context.Context, db *mongo.Database, record *models.QueryAnalytics) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func orchestratorConfig() *config.Config {
	return &config.Config{
		RetrievalTopK:         24,
		CompletenessThreshold: 0.85,
	}
}

func TestAnswerCompletePathSkipsEnrichment(t *testing.T) {
	retriever := &fakeRetriever{candidates: []models.RetrievalCandidate{
		{ChunkID: "d1:chunk_0", DocumentID: "d1", Text: "Paris is the capital of France.", AdjustedScore: 0.9},
	}}
	answerer := &fakeAnswerer{
		answer:    "Paris is the capital of France [1].",
		citations: []models.Citation{{Index: 1, ChunkID: "d1:chunk_0", DocumentID: "d1", Score: 0.9}},
	}
	judge := &fakeJudge{report: models.CompletenessReport{IsComplete: true, Completeness: 0.95, Confidence: 0.88}}
	enricher := &fakeEnricher{}
	recorder := &fakeRecorder{}

	o := &QueryOrchestrator{
		config:      orchestratorConfig(),
		retrieval:   retriever,
		synthesizer: answerer,
		evaluator:   judge,
		enrichment:  enricher,
		analytics:   recorder,
	}

	result, err := o.Answer(context.Background(), nil, "tenant-a", "What is the capital of France?", "203.0.113.9", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(result.QueryID, "q_") || len(result.QueryID) != 14 {
		t.Errorf("unexpected query id format: %q", result.QueryID)
	}
	if result.Answer != answerer.answer {
		t.Errorf("answer not carried through: %q", result.Answer)
	}
	if !result.IsComplete || result.Completeness != 0.95 || result.Confidence != 0.88 {
		t.Errorf("evaluation verdict not carried through: %+v", result)
	}
	if result.Enrichment != nil {
		t.Error("complete answer should not carry an enrichment result")
	}
	if enricher.calls != 0 {
		t.Errorf("enrichment ran %d times on a complete answer", enricher.calls)
	}
	if result.LatencyMS < 0 {
		t.Errorf("negative latency %d", result.LatencyMS)
	}
	if retriever.gotTopK != 24 {
		t.Errorf("topK 0 should fall back to the configured default, got %d", retriever.gotTopK)
	}

	if len(recorder.records) != 1 {
		t.Fatalf("expected exactly one analytics event, got %d", len(recorder.records))
	}
	record := recorder.records[0]
	if record.QueryID != result.QueryID {
		t.Errorf("analytics query id %q does not match result %q", record.QueryID, result.QueryID)
	}
	if record.AnswerHash != HashAnswer(answerer.answer) {
		t.Errorf("analytics answer hash mismatch: %q", record.AnswerHash)
	}
	if len(record.CitedDocumentIDs) != 1 || record.CitedDocumentIDs[0] != "d1" {
		t.Errorf("unexpected cited documents: %v", record.CitedDocumentIDs)
	}
	if record.CandidateCount != 1 || record.EnrichmentPerformed {
		t.Errorf("unexpected analytics counters: %+v", record)
	}
	if record.TenantID != "tenant-a" || record.ClientIP != "203.0.113.9" {
		t.Errorf("tenant or client metadata lost: %+v", record)
	}
}

func TestAnswerIncompleteTriggersEnrichment(t *testing.T) {
	retriever := &fakeRetriever{candidates: []models.RetrievalCandidate{
		{ChunkID: "d1:chunk_0", DocumentID: "d1", Text: "Partial coverage.", AdjustedScore: 0.6},
	}}
	answerer := &fakeAnswerer{
		answer:    "The documents cover part of this [1].",
		citations: []models.Citation{{Index: 1, ChunkID: "d1:chunk_0", DocumentID: "d1", Score: 0.6}},
	}
	judge := &fakeJudge{report: models.CompletenessReport{
		IsComplete:         false,
		Completeness:       0.4,
		Confidence:         0.5,
		MissingInformation: "deployment steps",
		SuggestedQueries:   []string{"deployment guide"},
	}}
	enricher := &fakeEnricher{result: &models.EnrichmentResult{
		Performed:   true,
		SearchTerms: []string{"deployment guide"},
		Candidates:  []models.EnrichmentCandidate{{URL: "https://example.com/deploy", Title: "Deploy guide", SourceProvider: "wikipedia"}},
		Message:     "found 1 external sources",
	}}
	recorder := &fakeRecorder{}

	o := &QueryOrchestrator{
		config:      orchestratorConfig(),
		retrieval:   retriever,
		synthesizer: answerer,
		evaluator:   judge,
		enrichment:  enricher,
		analytics:   recorder,
	}

	result, err := o.Answer(context.Background(), nil, "tenant-a", "How do I deploy this?", "", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if enricher.calls != 1 {
		t.Fatalf("expected one enrichment call, got %d", enricher.calls)
	}
	if enricher.gotMissing != "deployment steps" {
		t.Errorf("missing information not forwarded: %q", enricher.gotMissing)
	}
	if len(enricher.gotSuggested) != 1 || enricher.gotSuggested[0] != "deployment guide" {
		t.Errorf("suggested queries not forwarded: %v", enricher.gotSuggested)
	}
	if result.Enrichment == nil || !result.Enrichment.Performed || len(result.Enrichment.Candidates) != 1 {
		t.Errorf("enrichment result not attached: %+v", result.Enrichment)
	}
	if result.IsComplete {
		t.Error("incomplete verdict lost on the way out")
	}
	if retriever.gotTopK != 5 {
		t.Errorf("explicit topK overridden: got %d", retriever.gotTopK)
	}
	if len(recorder.records) != 1 || !recorder.records[0].EnrichmentPerformed {
		t.Errorf("analytics should record that enrichment fired: %+v", recorder.records)
	}
}

func TestAnswerRetrievalFailureRecordsNothing(t *testing.T) {
	retriever := &fakeRetriever{err: ErrRetrievalUnavailable}
	answerer := &fakeAnswerer{}
	recorder := &fakeRecorder{}

	o := &QueryOrchestrator{
		config:      orchestratorConfig(),
		retrieval:   retriever,
		synthesizer: answerer,
		evaluator:   &fakeJudge{},
		enrichment:  &fakeEnricher{},
		analytics:   recorder,
	}

	result, err := o.Answer(context.Background(), nil, "tenant-a", "anything", "", 0)
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("expected retrieval unavailable, got %v", err)
	}
	if result != nil {
		t.Error("failed request should not return a result")
	}
	if answerer.calls != 0 {
		t.Error("synthesis ran after retrieval failed")
	}
	if len(recorder.records) != 0 {
		t.Errorf("failed request should record no analytics, got %d", len(recorder.records))
	}
}

func TestAnswerGenerationFailureRecordsNothing(t *testing.T) {
	genErr := errors.New("answer generation failed: model overloaded")
	retriever := &fakeRetriever{candidates: []models.RetrievalCandidate{
		{ChunkID: "d1:chunk_0", DocumentID: "d1", Text: "text", AdjustedScore: 0.9},
	}}
	answerer := &fakeAnswerer{err: genErr}
	judge := &fakeJudge{}
	recorder := &fakeRecorder{}

	o := &QueryOrchestrator{
		config:      orchestratorConfig(),
		retrieval:   retriever,
		synthesizer: answerer,
		evaluator:   judge,
		enrichment:  &fakeEnricher{},
		analytics:   recorder,
	}

	_, err := o.Answer(context.Background(), nil, "tenant-a", "anything", "", 0)
	if !errors.Is(err, genErr) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if judge.calls != 0 {
		t.Error("evaluation ran after synthesis failed")
	}
	if len(recorder.records) != 0 {
		t.Errorf("failed request should record no analytics, got %d", len(recorder.records))
	}
}

func TestAnswerZeroCandidatesStillEnriches(t *testing.T) {
	cfg := orchestratorConfig()
	enricher := &fakeEnricher{result: &models.EnrichmentResult{
		Performed: true,
		Message:   "found 2 external sources",
	}}
	recorder := &fakeRecorder{}

	// Real synthesizer and evaluator: both short-circuit before touching
	// the model when there are no candidates, so a nil client is safe.
	o := &QueryOrchestrator{
		config:      cfg,
		retrieval:   &fakeRetriever{candidates: nil},
		synthesizer: NewAnswerSynthesizer(cfg, nil),
		evaluator:   NewCompletenessEvaluator(cfg, nil),
		enrichment:  enricher,
		analytics:   recorder,
	}

	result, err := o.Answer(context.Background(), nil, "tenant-a", "What is quantum annealing?", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Answer != NoContextAnswer {
		t.Errorf("expected the empty knowledge base answer, got %q", result.Answer)
	}
	if result.IsComplete {
		t.Error("zero candidates must never evaluate as complete")
	}
	if result.Citations == nil || len(result.Citations) != 0 {
		t.Errorf("expected empty citation list, got %v", result.Citations)
	}
	if enricher.calls != 1 {
		t.Fatalf("zero candidates must trigger enrichment, got %d calls", enricher.calls)
	}
	if result.Enrichment == nil || !result.Enrichment.Performed {
		t.Errorf("enrichment result not attached: %+v", result.Enrichment)
	}

	if len(recorder.records) != 1 {
		t.Fatalf("expected one analytics event, got %d", len(recorder.records))
	}
	record := recorder.records[0]
	if record.CandidateCount != 0 || len(record.CitedDocumentIDs) != 0 {
		t.Errorf("unexpected analytics counters for empty retrieval: %+v", record)
	}
	if !record.EnrichmentPerformed {
		t.Error("analytics should record that enrichment fired")
	}
}

func TestAnswerCancelledRequestRecordsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recorder := &fakeRecorder{}
	o := &QueryOrchestrator{
		config:    orchestratorConfig(),
		retrieval: &fakeRetriever{candidates: []models.RetrievalCandidate{{ChunkID: "d1:chunk_0", DocumentID: "d1", AdjustedScore: 0.9}}},
		synthesizer: &fakeAnswerer{
			answer:    "done [1]",
			citations: []models.Citation{{Index: 1, ChunkID: "d1:chunk_0", DocumentID: "d1"}},
		},
		evaluator:  &fakeJudge{report: models.CompletenessReport{IsComplete: true, Completeness: 0.9}},
		enrichment: &fakeEnricher{},
		analytics:  recorder,
	}

	result, err := o.Answer(ctx, nil, "tenant-a", "anything", "", 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result != nil {
		t.Error("cancelled request should not return a result")
	}
	if len(recorder.records) != 0 {
		t.Errorf("cancelled request should record no analytics, got %d", len(recorder.records))
	}
}

func TestAnswerAnalyticsFailureDoesNotFailRequest(t *testing.T) {
	recorder := &fakeRecorder{err: errors.New("connection reset")}
	o := &QueryOrchestrator{
		config:    orchestratorConfig(),
		retrieval: &fakeRetriever{candidates: []models.RetrievalCandidate{{ChunkID: "d1:chunk_0", DocumentID: "d1", AdjustedScore: 0.9}}},
		synthesizer: &fakeAnswerer{
			answer:    "fine [1]",
			citations: []models.Citation{{Index: 1, ChunkID: "d1:chunk_0", DocumentID: "d1"}},
		},
		evaluator:  &fakeJudge{report: models.CompletenessReport{IsComplete: true, Completeness: 0.9}},
		enrichment: &fakeEnricher{},
		analytics:  recorder,
	}

	result, err := o.Answer(context.Background(), nil, "tenant-a", "anything", "", 0)
	if err != nil {
		t.Fatalf("analytics failure must not fail the request: %v", err)
	}
	if result == nil || result.Answer != "fine [1]" {
		t.Errorf("expected the assembled answer despite the analytics failure, got %+v", result)
	}
}
