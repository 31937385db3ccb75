package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ExportRequest represents the request parameters for a query log export
type ExportRequest struct {
	Format         string    `json:"format" binding:"required,oneof=json excel both"` // json, excel, both
	DateFrom       time.Time `json:"date_from,omitempty"`
	DateTo         time.Time `json:"date_to,omitempty"`
	Limit          int       `json:"limit,omitempty"`           // Max records to export (0 = no limit)
	OnlyIncomplete bool      `json:"only_incomplete,omitempty"` // Only questions below the completeness threshold
	IncludeRatings bool      `json:"include_ratings,omitempty"` // Include the rating events sheet
}

// ExportResponse represents the response for export operations
type ExportResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	FileSize    int64  `json:"file_size,omitempty"`
	RecordCount int    `json:"record_count,omitempty"`
}

// QueryExportData represents the structured data for export
type QueryExportData struct {
	ExportInfo ExportInfo     `json:"export_info"`
	Queries    []QueryExport  `json:"queries"`
	Ratings    []RatingExport `json:"ratings,omitempty"`
	Summary    ExportSummary  `json:"summary"`
}

type ExportInfo struct {
	ExportDate     time.Time `json:"export_date"`
	TotalRecords   int       `json:"total_records"`
	DateRange      string    `json:"date_range,omitempty"`
	Format         string    `json:"format"`
	OnlyIncomplete bool      `json:"only_incomplete"`
	IncludeRatings bool      `json:"include_ratings"`
}

type QueryExport struct {
	QueryID             string    `json:"query_id"`
	Question            string    `json:"question"`
	AnswerLength        int       `json:"answer_length"`
	Completeness        float64   `json:"completeness"`
	Confidence          float64   `json:"confidence"`
	EnrichmentPerformed bool      `json:"enrichment_performed"`
	CitedDocuments      string    `json:"cited_documents,omitempty"`
	CandidateCount      int       `json:"candidate_count"`
	LatencyMS           int64     `json:"latency_ms"`
	CreatedAt           time.Time `json:"created_at"`
}

type RatingExport struct {
	EventID       string    `json:"event_id"`
	Question      string    `json:"question"`
	Polarity      string    `json:"polarity"`
	DocumentsUsed string    `json:"documents_used"`
	FeedbackText  string    `json:"feedback_text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type ExportSummary struct {
	TotalQuestions    int                   `json:"total_questions"`
	IncompleteCount   int                   `json:"incomplete_count"`
	EnrichedCount     int                   `json:"enriched_count"`
	AvgCompleteness   float64               `json:"avg_completeness"`
	AvgLatencyMS      float64               `json:"avg_latency_ms"`
	DateRange         string                `json:"date_range"`
	TopCitedDocuments []models.DocumentHits `json:"top_cited_documents,omitempty"`
}

// ExportService handles query log export operations
type ExportService struct {
	config *config.Config
}

// NewExportService creates a new export service
func NewExportService(cfg *config.Config) *ExportService {
	return &ExportService{config: cfg}
}

// ExportQueries exports the question log in the requested format
func (es *ExportService) ExportQueries(ctx context.Context, db *mongo.Database, req *ExportRequest) (*ExportResponse, error) {
	data, err := es.BuildExportData(ctx, db, req)
	if err != nil {
		return nil, err
	}

	if len(data.Queries) == 0 {
		return &ExportResponse{
			Success:     true,
			Message:     "No questions found for the specified criteria",
			RecordCount: 0,
		}, nil
	}

	switch req.Format {
	case "json":
		return es.exportJSON(data)
	case "excel":
		return es.exportExcel(data)
	case "both":
		return es.exportBoth(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// BuildExportData fetches the matching query log records and assembles
// the export payload with its summary statistics.
func (es *ExportService) BuildExportData(ctx context.Context, db *mongo.Database, req *ExportRequest) (*QueryExportData, error) {
	filter := es.BuildExportFilter(req)

	opts := options.Find().SetSort(bson.D{{"created_at", -1}})
	if req.Limit > 0 {
		opts.SetLimit(int64(req.Limit))
	}

	cursor, err := db.Collection("query_analytics").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch query log: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.QueryAnalytics
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode query log: %w", err)
	}

	data := &QueryExportData{
		ExportInfo: ExportInfo{
			ExportDate:     time.Now().UTC(),
			TotalRecords:   len(records),
			DateRange:      dateRangeLabel(req.DateFrom, req.DateTo),
			Format:         req.Format,
			OnlyIncomplete: req.OnlyIncomplete,
			IncludeRatings: req.IncludeRatings,
		},
		Queries: make([]QueryExport, len(records)),
		Summary: es.summarize(records, req),
	}

	for i, record := range records {
		data.Queries[i] = QueryExport{
			QueryID:             record.QueryID,
			Question:            record.Question,
			AnswerLength:        record.AnswerLength,
			Completeness:        record.Completeness,
			Confidence:          record.Confidence,
			EnrichmentPerformed: record.EnrichmentPerformed,
			CitedDocuments:      strings.Join(record.CitedDocumentIDs, "; "),
			CandidateCount:      record.CandidateCount,
			LatencyMS:           record.LatencyMS,
			CreatedAt:           record.CreatedAt,
		}
	}

	if req.IncludeRatings {
		ratings, err := es.fetchRatings(ctx, db, req)
		if err != nil {
			return nil, err
		}
		data.Ratings = ratings
	}

	return data, nil
}

// BuildExportFilter builds the MongoDB filter for the requested window.
// The database handle is already tenant-scoped, so only time and
// completeness filters apply here.
func (es *ExportService) BuildExportFilter(req *ExportRequest) bson.M {
	filter := bson.M{}

	if !req.DateFrom.IsZero() || !req.DateTo.IsZero() {
		dateFilter := bson.M{}
		if !req.DateFrom.IsZero() {
			dateFilter["$gte"] = req.DateFrom
		}
		if !req.DateTo.IsZero() {
			dateFilter["$lte"] = req.DateTo
		}
		filter["created_at"] = dateFilter
	}

	if req.OnlyIncomplete {
		filter["completeness"] = bson.M{"$lt": es.config.CompletenessThreshold}
	}

	return filter
}

func (es *ExportService) fetchRatings(ctx context.Context, db *mongo.Database, req *ExportRequest) ([]RatingExport, error) {
	filter := bson.M{}
	if !req.DateFrom.IsZero() || !req.DateTo.IsZero() {
		dateFilter := bson.M{}
		if !req.DateFrom.IsZero() {
			dateFilter["$gte"] = req.DateFrom
		}
		if !req.DateTo.IsZero() {
			dateFilter["$lte"] = req.DateTo
		}
		filter["created_at"] = dateFilter
	}

	cursor, err := db.Collection("ratings").Find(ctx, filter, options.Find().SetSort(bson.D{{"created_at", -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ratings: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.RatingEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode ratings: %w", err)
	}

	ratings := make([]RatingExport, len(events))
	for i, event := range events {
		ratings[i] = RatingExport{
			EventID:       event.ID,
			Question:      event.Question,
			Polarity:      event.Polarity,
			DocumentsUsed: strings.Join(event.DocumentsUsed, "; "),
			FeedbackText:  event.FeedbackText,
			CreatedAt:     event.CreatedAt,
		}
	}
	return ratings, nil
}

// summarize computes the summary statistics over the fetched records.
func (es *ExportService) summarize(records []models.QueryAnalytics, req *ExportRequest) ExportSummary {
	summary := ExportSummary{
		TotalQuestions: len(records),
		DateRange:      dateRangeLabel(req.DateFrom, req.DateTo),
	}
	if len(records) == 0 {
		return summary
	}

	citedCounts := make(map[string]int64)
	var completenessSum float64
	var latencySum int64
	for _, record := range records {
		completenessSum += record.Completeness
		latencySum += record.LatencyMS
		if record.Completeness < es.config.CompletenessThreshold {
			summary.IncompleteCount++
		}
		if record.EnrichmentPerformed {
			summary.EnrichedCount++
		}
		for _, docID := range record.CitedDocumentIDs {
			citedCounts[docID]++
		}
	}
	summary.AvgCompleteness = completenessSum / float64(len(records))
	summary.AvgLatencyMS = float64(latencySum) / float64(len(records))

	for docID, count := range citedCounts {
		summary.TopCitedDocuments = append(summary.TopCitedDocuments, models.DocumentHits{DocumentID: docID, Count: count})
	}
	sortDocumentHits(summary.TopCitedDocuments)
	if len(summary.TopCitedDocuments) > 10 {
		summary.TopCitedDocuments = summary.TopCitedDocuments[:10]
	}

	return summary
}

// exportJSON exports data as a JSON document
func (es *ExportService) exportJSON(data *QueryExportData) (*ExportResponse, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return &ExportResponse{
		Success:     true,
		Message:     "JSON export generated successfully",
		FileSize:    int64(len(jsonData)),
		RecordCount: data.ExportInfo.TotalRecords,
	}, nil
}

// exportExcel exports data as an Excel workbook
func (es *ExportService) exportExcel(data *QueryExportData) (*ExportResponse, error) {
	f, err := es.buildWorkbook(data)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Printf("Error closing Excel file: %v\n", err)
		}
	}()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	return &ExportResponse{
		Success:     true,
		Message:     "Excel export generated successfully",
		FileSize:    int64(buf.Len()),
		RecordCount: data.ExportInfo.TotalRecords,
	}, nil
}

// exportBoth exports data as both JSON and Excel in a ZIP file
func (es *ExportService) exportBoth(data *QueryExportData) (*ExportResponse, error) {
	buf, err := es.buildZip(data)
	if err != nil {
		return nil, err
	}

	return &ExportResponse{
		Success:     true,
		Message:     "ZIP export with JSON and Excel files generated successfully",
		FileSize:    int64(buf.Len()),
		RecordCount: data.ExportInfo.TotalRecords,
	}, nil
}

func (es *ExportService) buildZip(data *QueryExportData) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	jsonFile, err := zipWriter.Create("query_export.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON file in ZIP: %w", err)
	}
	if _, err := jsonFile.Write(jsonData); err != nil {
		return nil, fmt.Errorf("failed to write JSON data: %w", err)
	}

	f, err := es.buildWorkbook(data)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var excelBuf bytes.Buffer
	if err := f.Write(&excelBuf); err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	excelFile, err := zipWriter.Create("query_export.xlsx")
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel file in ZIP: %w", err)
	}
	if _, err := excelFile.Write(excelBuf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write Excel data to ZIP: %w", err)
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close ZIP writer: %w", err)
	}
	return &buf, nil
}

// buildWorkbook renders the query log, optional ratings and summary
// sheets. Every export format goes through this one builder.
func (es *ExportService) buildWorkbook(data *QueryExportData) (*excelize.File, error) {
	f := excelize.NewFile()

	sheetName := "Query Log"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"Query ID", "Question", "Answer Length", "Completeness", "Confidence",
		"Enriched", "Cited Documents", "Candidates", "Latency (ms)", "Created At",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIdx, q := range data.Queries {
		row := rowIdx + 2 // Start from row 2 (after headers)
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), q.QueryID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), q.Question)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), q.AnswerLength)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), q.Completeness)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), q.Confidence)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), q.EnrichmentPerformed)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), q.CitedDocuments)
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), q.CandidateCount)
		f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), q.LatencyMS)
		f.SetCellValue(sheetName, fmt.Sprintf("J%d", row), q.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	f.SetColWidth(sheetName, "A", "A", 16)
	f.SetColWidth(sheetName, "B", "B", 50)
	f.SetColWidth(sheetName, "C", "J", 15)

	if data.ExportInfo.IncludeRatings {
		ratingsSheet := "Ratings"
		if _, err := f.NewSheet(ratingsSheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create ratings sheet: %w", err)
		}

		ratingHeaders := []string{"Event ID", "Question", "Polarity", "Documents Used", "Feedback", "Created At"}
		for i, header := range ratingHeaders {
			cell := fmt.Sprintf("%c1", 'A'+i)
			f.SetCellValue(ratingsSheet, cell, header)
		}
		for rowIdx, r := range data.Ratings {
			row := rowIdx + 2
			f.SetCellValue(ratingsSheet, fmt.Sprintf("A%d", row), r.EventID)
			f.SetCellValue(ratingsSheet, fmt.Sprintf("B%d", row), r.Question)
			f.SetCellValue(ratingsSheet, fmt.Sprintf("C%d", row), r.Polarity)
			f.SetCellValue(ratingsSheet, fmt.Sprintf("D%d", row), r.DocumentsUsed)
			f.SetCellValue(ratingsSheet, fmt.Sprintf("E%d", row), r.FeedbackText)
			f.SetCellValue(ratingsSheet, fmt.Sprintf("F%d", row), r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		f.SetColWidth(ratingsSheet, "B", "B", 50)
	}

	summarySheet := "Summary"
	if _, err := f.NewSheet(summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}

	summaryData := [][]interface{}{
		{"Export Information", ""},
		{"Export Date", data.ExportInfo.ExportDate.Format("2006-01-02 15:04:05")},
		{"Total Records", data.ExportInfo.TotalRecords},
		{"Date Range", data.ExportInfo.DateRange},
		{"Format", data.ExportInfo.Format},
		{"Only Incomplete", data.ExportInfo.OnlyIncomplete},
		{"", ""},
		{"Summary Statistics", ""},
		{"Total Questions", data.Summary.TotalQuestions},
		{"Incomplete Answers", data.Summary.IncompleteCount},
		{"Enrichment Triggered", data.Summary.EnrichedCount},
		{"Avg Completeness", fmt.Sprintf("%.2f", data.Summary.AvgCompleteness)},
		{"Avg Latency (ms)", fmt.Sprintf("%.1f", data.Summary.AvgLatencyMS)},
	}
	for i, row := range summaryData {
		for j, cell := range row {
			cellRef := fmt.Sprintf("%c%d", 'A'+j, i+1)
			f.SetCellValue(summarySheet, cellRef, cell)
		}
	}

	if len(data.Summary.TopCitedDocuments) > 0 {
		row := len(summaryData) + 3
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Top Cited Documents")
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), "Count")
		row++
		for _, hit := range data.Summary.TopCitedDocuments {
			f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), hit.DocumentID)
			f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), hit.Count)
			row++
		}
	}
	f.SetColWidth(summarySheet, "A", "A", 30)

	return f, nil
}

// StreamExport streams export data directly to the HTTP response
func (es *ExportService) StreamExport(ctx *gin.Context, data *QueryExportData, format string) error {
	switch format {
	case "json":
		jsonData, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		ctx.Header("Content-Disposition", "attachment; filename=query_export.json")
		ctx.Header("Content-Length", strconv.Itoa(len(jsonData)))
		ctx.Data(http.StatusOK, "application/json", jsonData)

	case "excel":
		f, err := es.buildWorkbook(data)
		if err != nil {
			return err
		}
		defer f.Close()

		var buf bytes.Buffer
		if err := f.Write(&buf); err != nil {
			return fmt.Errorf("failed to write Excel file: %w", err)
		}
		ctx.Header("Content-Disposition", "attachment; filename=query_export.xlsx")
		ctx.Header("Content-Length", strconv.Itoa(buf.Len()))
		ctx.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())

	case "both":
		buf, err := es.buildZip(data)
		if err != nil {
			return err
		}
		ctx.Header("Content-Disposition", "attachment; filename=query_export.zip")
		ctx.Header("Content-Length", strconv.Itoa(buf.Len()))
		ctx.Data(http.StatusOK, "application/zip", buf.Bytes())

	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	return nil
}

func dateRangeLabel(from, to time.Time) string {
	if from.IsZero() && to.IsZero() {
		return "all time"
	}
	layout := "2006-01-02"
	switch {
	case to.IsZero():
		return fmt.Sprintf("from %s", from.Format(layout))
	case from.IsZero():
		return fmt.Sprintf("until %s", to.Format(layout))
	default:
		return fmt.Sprintf("%s to %s", from.Format(layout), to.Format(layout))
	}
}

// sortDocumentHits orders citation counts descending, id ascending on ties.
func sortDocumentHits(hits []models.DocumentHits) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Count != hits[j].Count {
			return hits[i].Count > hits[j].Count
		}
		return hits[i].DocumentID < hits[j].DocumentID
	})
}
