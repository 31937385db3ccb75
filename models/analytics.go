package models

import (
	"time"
)

// QueryAnalytics is written once per answered question, on the Done edge.
// The cited document ids recorded here are the reference set against which
// later rating events are validated.
type QueryAnalytics struct {
	QueryID              string    `bson:"_id" json:"query_id"`
	TenantID             string    `bson:"tenant_id" json:"tenant_id"`
	Question             string    `bson:"question" json:"question"`
	AnswerHash           string    `bson:"answer_hash" json:"answer_hash"`
	AnswerLength         int       `bson:"answer_length" json:"answer_length"`
	CitedDocumentIDs     []string  `bson:"cited_document_ids" json:"cited_document_ids"`
	RetrievedDocumentIDs []string  `bson:"retrieved_document_ids,omitempty" json:"-"`
	CandidateCount       int       `bson:"candidate_count" json:"candidate_count"`
	Completeness         float64   `bson:"completeness" json:"completeness"`
	Confidence           float64   `bson:"confidence" json:"confidence"`
	EnrichmentPerformed  bool      `bson:"enrichment_performed" json:"enrichment_performed"`
	LatencyMS            int64     `bson:"latency_ms" json:"latency_ms"`
	ClientIP             string    `bson:"client_ip,omitempty" json:"-"`
	CreatedAt            time.Time `bson:"created_at" json:"created_at"`
}

// DocumentAnalytics accumulates retrieval and citation counters per document.
// Updated by the rollup worker, not on the request path.
type DocumentAnalytics struct {
	DocumentID      string    `bson:"_id" json:"document_id"`
	TenantID        string    `bson:"tenant_id" json:"tenant_id"`
	RetrievedCount  int       `bson:"retrieved_count" json:"retrieved_count"`
	CitedCount      int       `bson:"cited_count" json:"cited_count"`
	LastRetrievedAt time.Time `bson:"last_retrieved_at" json:"last_retrieved_at"`
}

// UserAnalytics is a per-tenant activity rollup.
type UserAnalytics struct {
	TenantID         string    `bson:"_id" json:"tenant_id"`
	QuestionCount    int       `bson:"question_count" json:"question_count"`
	RatingCount      int       `bson:"rating_count" json:"rating_count"`
	EnrichmentCount  int       `bson:"enrichment_count" json:"enrichment_count"`
	AvgCompleteness  float64   `bson:"avg_completeness" json:"avg_completeness"`
	LastActiveAt     time.Time `bson:"last_active_at" json:"last_active_at"`
	TotalLatencyMS   int64     `bson:"total_latency_ms" json:"-"`
	CompletenessSum  float64   `bson:"completeness_sum" json:"-"`
}

// SearchStats is the aggregate view returned by GET /search/stats.
type SearchStats struct {
	TotalQuestions     int64          `json:"total_questions"`
	AvgCompleteness    float64        `json:"avg_completeness"`
	AvgLatencyMS       float64        `json:"avg_latency_ms"`
	EnrichmentRate     float64        `json:"enrichment_rate"`
	TotalRatings       int64          `json:"total_ratings"`
	PositiveRatings    int64          `json:"positive_ratings"`
	TopCitedDocuments  []DocumentHits `json:"top_cited_documents,omitempty"`
	PeriodStart        time.Time      `json:"period_start"`
	PeriodEnd          time.Time      `json:"period_end"`
}

type DocumentHits struct {
	DocumentID string `bson:"_id" json:"document_id"`
	Title      string `bson:"title" json:"title,omitempty"`
	Count      int64  `bson:"count" json:"count"`
}
