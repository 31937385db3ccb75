package services

import (
	"testing"
	"time"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"

	"go.mongodb.org/mongo-driver/bson"
)

func newTestExportService() *ExportService {
	return NewExportService(&config.Config{CompletenessThreshold: 0.85})
}

func TestSummarize(t *testing.T) {
	es := newTestExportService()
	records := []models.QueryAnalytics{
		{Completeness: 0.9, LatencyMS: 100, CitedDocumentIDs: []string{"d1", "d2"}},
		{Completeness: 0.5, LatencyMS: 200, EnrichmentPerformed: true, CitedDocumentIDs: []string{"d1"}},
		{Completeness: 0.4, LatencyMS: 300, EnrichmentPerformed: true},
	}

	summary := es.summarize(records, &ExportRequest{})

	if summary.TotalQuestions != 3 {
		t.Errorf("expected 3 questions, got %d", summary.TotalQuestions)
	}
	if summary.IncompleteCount != 2 {
		t.Errorf("expected 2 incomplete answers, got %d", summary.IncompleteCount)
	}
	if summary.EnrichedCount != 2 {
		t.Errorf("expected 2 enriched answers, got %d", summary.EnrichedCount)
	}
	if diff := summary.AvgCompleteness - 0.6; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected avg completeness 0.6, got %f", summary.AvgCompleteness)
	}
	if summary.AvgLatencyMS != 200 {
		t.Errorf("expected avg latency 200, got %f", summary.AvgLatencyMS)
	}

	if len(summary.TopCitedDocuments) != 2 {
		t.Fatalf("expected 2 cited documents, got %d", len(summary.TopCitedDocuments))
	}
	if summary.TopCitedDocuments[0].DocumentID != "d1" || summary.TopCitedDocuments[0].Count != 2 {
		t.Errorf("expected d1 cited twice at the top, got %+v", summary.TopCitedDocuments[0])
	}
	if summary.TopCitedDocuments[1].DocumentID != "d2" || summary.TopCitedDocuments[1].Count != 1 {
		t.Errorf("expected d2 cited once, got %+v", summary.TopCitedDocuments[1])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	summary := newTestExportService().summarize(nil, &ExportRequest{})
	if summary.TotalQuestions != 0 || summary.AvgCompleteness != 0 {
		t.Errorf("empty record set should produce a zero summary: %+v", summary)
	}
}

func TestBuildExportFilter(t *testing.T) {
	es := newTestExportService()

	if filter := es.BuildExportFilter(&ExportRequest{}); len(filter) != 0 {
		t.Errorf("empty request should produce an empty filter, got %v", filter)
	}

	filter := es.BuildExportFilter(&ExportRequest{OnlyIncomplete: true})
	completeness, ok := filter["completeness"].(bson.M)
	if !ok {
		t.Fatalf("expected completeness filter, got %v", filter)
	}
	if completeness["$lt"] != 0.85 {
		t.Errorf("expected $lt 0.85, got %v", completeness["$lt"])
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	filter = es.BuildExportFilter(&ExportRequest{DateFrom: from})
	if _, ok := filter["created_at"]; !ok {
		t.Errorf("expected created_at filter, got %v", filter)
	}
}

func TestDateRangeLabel(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	if got := dateRangeLabel(time.Time{}, time.Time{}); got != "all time" {
		t.Errorf("expected all time, got %q", got)
	}
	if got := dateRangeLabel(from, time.Time{}); got != "from 2026-01-01" {
		t.Errorf("unexpected label %q", got)
	}
	if got := dateRangeLabel(time.Time{}, to); got != "until 2026-02-01" {
		t.Errorf("unexpected label %q", got)
	}
	if got := dateRangeLabel(from, to); got != "2026-01-01 to 2026-02-01" {
		t.Errorf("unexpected label %q", got)
	}
}

func TestExportExcelProducesWorkbook(t *testing.T) {
	es := newTestExportService()
	data := &QueryExportData{
		ExportInfo: ExportInfo{ExportDate: time.Now(), TotalRecords: 1, Format: "excel"},
		Queries: []QueryExport{{
			QueryID:        "q_0123456789ab",
			Question:       "What is a shard key?",
			AnswerLength:   120,
			Completeness:   0.9,
			Confidence:     0.8,
			CitedDocuments: "d1; d2",
			CandidateCount: 5,
			LatencyMS:      432,
			CreatedAt:      time.Now(),
		}},
		Summary: ExportSummary{TotalQuestions: 1, AvgCompleteness: 0.9, AvgLatencyMS: 432},
	}

	resp, err := es.exportExcel(data)
	if err != nil {
		t.Fatalf("excel export failed: %v", err)
	}
	if !resp.Success || resp.RecordCount != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.FileSize <= 0 {
		t.Errorf("expected a non-empty workbook, got size %d", resp.FileSize)
	}
}
