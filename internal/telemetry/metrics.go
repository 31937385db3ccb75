package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the platform's OTel instruments. A nil *Metrics is
// never passed around; callers that run without a collector skip the
// recording calls instead.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	TokensUsed          metric.Int64Counter
	AskRequests         metric.Int64Counter
	AskLatency          metric.Float64Histogram
	RetrievalCandidates metric.Int64Histogram
	CompletenessScore   metric.Float64Histogram
	EnrichmentRuns      metric.Int64Counter
	RatingsRecorded     metric.Int64Counter
	IngestDuration      metric.Float64Histogram
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics registers every instrument against the global meter.
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("kb-search-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"llm.tokens.used",
		metric.WithDescription("Total LLM tokens used"),
	)
	if err != nil {
		return nil, err
	}

	askRequests, err := meter.Int64Counter(
		"ask.requests.total",
		metric.WithDescription("Question answering requests by terminal state"),
	)
	if err != nil {
		return nil, err
	}

	askLatency, err := meter.Float64Histogram(
		"ask.latency",
		metric.WithDescription("End to end question answering latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	retrievalCandidates, err := meter.Int64Histogram(
		"ask.retrieval.candidates",
		metric.WithDescription("Fused candidate count per question"),
	)
	if err != nil {
		return nil, err
	}

	completenessScore, err := meter.Float64Histogram(
		"ask.completeness",
		metric.WithDescription("Self-assessed answer completeness"),
	)
	if err != nil {
		return nil, err
	}

	enrichmentRuns, err := meter.Int64Counter(
		"ask.enrichment.runs",
		metric.WithDescription("Enrichment passes by outcome"),
	)
	if err != nil {
		return nil, err
	}

	ratingsRecorded, err := meter.Int64Counter(
		"ratings.recorded",
		metric.WithDescription("Accepted rating events by polarity"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"documents.ingest.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		TokensUsed:          tokensUsed,
		AskRequests:         askRequests,
		AskLatency:          askLatency,
		RetrievalCandidates: retrievalCandidates,
		CompletenessScore:   completenessScore,
		EnrichmentRuns:      enrichmentRuns,
		RatingsRecorded:     ratingsRecorded,
		IngestDuration:      ingestDuration,
		CircuitBreakerState: circuitBreakerState,
	}, nil
}

// RecordRequest counts one HTTP request. path must be the matched route
// pattern, not the raw URL, or the label space explodes.
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordTokensUsed attributes LLM token spend to a model.
func (m *Metrics) RecordTokensUsed(tokens int64, model string) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", model),
		attribute.String("service", "llm"),
	}

	m.TokensUsed.Add(context.Background(), tokens, metric.WithAttributes(attrs...))
}

// RecordAsk records one completed question answering request
func (m *Metrics) RecordAsk(state string, latencySeconds float64, candidates int, completeness float64) {
	attrs := []attribute.KeyValue{
		attribute.String("ask.state", state),
	}

	m.AskRequests.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.AskLatency.Record(context.Background(), latencySeconds, metric.WithAttributes(attrs...))
	m.RetrievalCandidates.Record(context.Background(), int64(candidates))
	m.CompletenessScore.Record(context.Background(), completeness)
}

// RecordEnrichment records an enrichment pass outcome
func (m *Metrics) RecordEnrichment(performed bool, sources int) {
	attrs := []attribute.KeyValue{
		attribute.Bool("enrichment.performed", performed),
		attribute.Int("enrichment.sources", sources),
	}

	m.EnrichmentRuns.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordRating records an accepted rating event
func (m *Metrics) RecordRating(polarity string) {
	attrs := []attribute.KeyValue{
		attribute.String("rating.polarity", polarity),
	}

	m.RatingsRecorded.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordIngest records document ingestion metrics
func (m *Metrics) RecordIngest(duration float64, status string) {
	attrs := []attribute.KeyValue{
		attribute.String("ingest.status", status),
		attribute.String("service", "document_ingest"),
	}

	m.IngestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordCircuitBreakerState counts a breaker transition for a service.
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
