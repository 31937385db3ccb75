package models

// Query orchestrator states. Each question moves strictly forward through
// these; Complete and Enriching both terminate in Done.
const (
	StateReceived     = "received"
	StateRetrieving   = "retrieving"
	StateSynthesizing = "synthesizing"
	StateEvaluating   = "evaluating"
	StateComplete     = "complete"
	StateEnriching    = "enriching"
	StateDone         = "done"
	StateFailed       = "failed"
)

type AskRequest struct {
	Question string `json:"question" binding:"required,min=1,max=2000"`
	TopK     int    `json:"top_k,omitempty" binding:"omitempty,min=1,max=50"`
}

// RetrievalCandidate is a chunk hit after quality adjustment and fusion.
type RetrievalCandidate struct {
	ChunkID       string   `json:"chunk_id"`
	DocumentID    string   `json:"document_id"`
	Text          string   `json:"text"`
	Position      int      `json:"position,omitempty"`
	SourceURL     string   `json:"source_url,omitempty"`
	Filename      string   `json:"filename,omitempty"`
	RawScore      float64  `json:"raw_score"`
	AdjustedScore float64  `json:"adjusted_score"`
	SourceQueries []string `json:"source_queries"`
}

// Citation references one context chunk the answer actually used. Index is the
// 1-based position of the chunk in the prompt context block.
type Citation struct {
	Index      int     `json:"index"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source,omitempty"` // filename or URL
	Score      float64 `json:"score"`
}

// CompletenessReport is the evaluator verdict on one answer.
type CompletenessReport struct {
	IsComplete         bool     `json:"is_complete"`
	Completeness       float64  `json:"completeness"`
	Confidence         float64  `json:"confidence"`
	MissingInformation string   `json:"missing_information,omitempty"`
	SuggestedQueries   []string `json:"suggested_queries,omitempty"`
}

// EnrichmentCandidate is an external source suggested for the knowledge base.
type EnrichmentCandidate struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	Summary        string `json:"summary"`
	SourceProvider string `json:"source_provider"`
	AlreadyExists  bool   `json:"already_exists"`
}

// EnrichmentResult is attached to an answer when the evaluator found it
// incomplete. Performed=false with a message means every provider failed;
// that never fails the surrounding request.
type EnrichmentResult struct {
	Performed   bool                  `json:"performed"`
	SearchTerms []string              `json:"search_terms,omitempty"`
	Candidates  []EnrichmentCandidate `json:"candidates,omitempty"`
	Message     string                `json:"message,omitempty"`
}

// AnswerResult is the assembled response for one question.
type AnswerResult struct {
	QueryID            string            `json:"query_id"`
	Question           string            `json:"question"`
	Answer             string            `json:"answer"`
	Citations          []Citation        `json:"citations"`
	CandidateCount     int               `json:"candidate_count"`
	Completeness       float64           `json:"completeness"`
	Confidence         float64           `json:"confidence"`
	IsComplete         bool              `json:"is_complete"`
	MissingInformation string            `json:"missing_information,omitempty"`
	SuggestedQueries   []string          `json:"suggested_queries,omitempty"`
	Enrichment         *EnrichmentResult `json:"enrichment,omitempty"`
	LatencyMS          int64             `json:"latency_ms"`
}
