package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"kb-search-platform/internal/ai"
	"kb-search-platform/internal/config"
	"kb-search-platform/internal/crawler"
	"kb-search-platform/models"
	"kb-search-platform/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrDocumentNotFound = errors.New("document not found")

// DocumentService owns the ingestion pipeline: extract, hash, chunk,
// embed, index. Every method takes the tenant database so all reads
// and writes stay inside the caller's namespace.
type DocumentService struct {
	config    *config.Config
	extractor *TextExtractor
	chunker   *ChunkingService
	index     *VectorIndex
	storage   *BlobStorage
}

// NewDocumentService creates a new document service instance
func NewDocumentService(cfg *config.Config, storage *BlobStorage) *DocumentService {
	return &DocumentService{
		config:    cfg,
		extractor: NewTextExtractor(cfg),
		chunker:   NewChunkingService(cfg.MaxChunkSize, cfg.ChunkOverlap, 100),
		index:     NewVectorIndex(cfg),
		storage:   storage,
	}
}

// ingestInput carries one document through the shared processing path.
type ingestInput struct {
	Title      string
	Text       string
	SourceType string
	SourceURL  string
	Filename   string
	StorageKey string
	Size       int64
	Extraction *ExtractionResult // nil for raw text ingestion
}

// IngestText ingests a raw text document.
func (s *DocumentService) IngestText(ctx context.Context, db *mongo.Database, tenantID, title, text string) (*models.IngestResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("document text is empty")
	}

	return s.process(ctx, db, tenantID, ingestInput{
		Title:      title,
		Text:       text,
		SourceType: models.SourceTypeUpload,
		Size:       int64(len(text)),
	})
}

// IngestFile extracts text from an uploaded file and ingests it. The
// original bytes are kept in blob storage for later download.
func (s *DocumentService) IngestFile(ctx context.Context, db *mongo.Database, tenantID, filename string, content []byte, contentType string) (*models.IngestResponse, error) {
	if err := s.ValidateUpload(filename, int64(len(content)), contentType); err != nil {
		return nil, err
	}

	extraction, err := s.extractor.Extract(ctx, filename, content)
	if err != nil {
		return nil, fmt.Errorf("text extraction failed: %w", err)
	}

	docID := utils.DocumentID(extraction.Text)
	storageKey := ObjectKey(tenantID, docID, filename)
	if err := s.storage.Store(ctx, storageKey, content, contentType); err != nil {
		return nil, fmt.Errorf("file storage failed: %w", err)
	}

	title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if title == "" {
		title = filename
	}

	return s.process(ctx, db, tenantID, ingestInput{
		Title:      title,
		Text:       extraction.Text,
		SourceType: models.SourceTypeUpload,
		Filename:   filename,
		StorageKey: storageKey,
		Size:       int64(len(content)),
		Extraction: extraction,
	})
}

// StageFile stores an upload and creates a pending record for the
// background worker. Extraction has not happened yet, so the record id
// is provisional until ProcessStaged replaces it with the content hash.
func (s *DocumentService) StageFile(ctx context.Context, db *mongo.Database, tenantID, filename string, content []byte, contentType string) (string, error) {
	if err := s.ValidateUpload(filename, int64(len(content)), contentType); err != nil {
		return "", err
	}

	stagedID := "staged_" + utils.DocumentID(fmt.Sprintf("%s/%s/%d/%d", tenantID, filename, len(content), time.Now().UnixNano()))
	storageKey := ObjectKey(tenantID, stagedID, filename)
	if err := s.storage.Store(ctx, storageKey, content, contentType); err != nil {
		return "", fmt.Errorf("file storage failed: %w", err)
	}

	now := time.Now()
	record := models.DocumentRecord{
		ID:         stagedID,
		TenantID:   tenantID,
		Title:      filename,
		SourceType: models.SourceTypeUpload,
		Filename:   filename,
		StorageKey: storageKey,
		Status:     models.StatusPending,
		Metadata:   models.DocumentMeta{Size: int64(len(content))},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := db.Collection("documents").InsertOne(ctx, record); err != nil {
		s.storage.Delete(ctx, storageKey)
		return "", fmt.Errorf("failed to create staged record: %w", err)
	}
	return stagedID, nil
}

// ProcessStaged runs extraction and indexing for a staged upload. The
// staged record is replaced by the canonical content-hash record.
func (s *DocumentService) ProcessStaged(ctx context.Context, db *mongo.Database, tenantID, stagedID string) (*models.IngestResponse, error) {
	var staged models.DocumentRecord
	err := db.Collection("documents").FindOne(ctx, bson.M{"_id": stagedID}).Decode(&staged)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("staged document %s not found", stagedID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load staged document: %w", err)
	}

	content, err := s.storage.Fetch(ctx, staged.StorageKey)
	if err != nil {
		s.markFailed(ctx, db, stagedID, "stored file unreadable: "+err.Error())
		return nil, fmt.Errorf("failed to fetch staged file: %w", err)
	}

	extraction, err := s.extractor.Extract(ctx, staged.Filename, content)
	if err != nil {
		s.markFailed(ctx, db, stagedID, "text extraction failed: "+err.Error())
		return nil, fmt.Errorf("text extraction failed: %w", err)
	}

	resp, err := s.process(ctx, db, tenantID, ingestInput{
		Title:      staged.Title,
		Text:       extraction.Text,
		SourceType: models.SourceTypeUpload,
		Filename:   staged.Filename,
		StorageKey: staged.StorageKey,
		Size:       staged.Metadata.Size,
		Extraction: extraction,
	})
	if err != nil {
		s.markFailed(ctx, db, stagedID, err.Error())
		return nil, err
	}

	// The canonical record now exists; the staged placeholder goes away.
	if resp.ID != stagedID {
		db.Collection("documents").DeleteOne(ctx, bson.M{"_id": stagedID})
	}
	return resp, nil
}

// IngestURL fetches a web page and ingests its main content. Each fetch
// is tracked as a crawl job so tenants can inspect their web ingestion
// history.
func (s *DocumentService) IngestURL(ctx context.Context, db *mongo.Database, tenantID, rawURL string, renderJS bool) (*models.IngestResponse, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	jobID := startCrawlJob(ctx, db, tenantID, normalized)
	fetchStart := time.Now()

	result, err := crawler.FetchPage(normalized, renderJS)
	if err == nil && result.Error != nil {
		err = result.Error
	}
	if err != nil {
		finishCrawlJob(ctx, db, jobID, bson.M{"status": models.CrawlStatusFailed, "error": err.Error()})
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	if strings.TrimSpace(result.Content) == "" {
		finishCrawlJob(ctx, db, jobID, bson.M{"status": models.CrawlStatusFailed, "error": "page has no extractable content"})
		return nil, fmt.Errorf("page has no extractable content")
	}

	title := result.Title
	if title == "" {
		title = normalized
	}

	resp, err := s.process(ctx, db, tenantID, ingestInput{
		Title:      title,
		Text:       result.Content,
		SourceType: models.SourceTypeWeb,
		SourceURL:  normalized,
		Size:       int64(len(result.Content)),
	})
	if err != nil {
		finishCrawlJob(ctx, db, jobID, bson.M{"status": models.CrawlStatusFailed, "error": err.Error()})
		return nil, err
	}

	finishCrawlJob(ctx, db, jobID, bson.M{
		"status":          models.CrawlStatusCompleted,
		"document_id":     resp.ID,
		"title":           title,
		"pages_found":     1,
		"pages_crawled":   1,
		"processing_time": time.Since(fetchStart),
	})
	return resp, nil
}

// RefreshWebDocument re-fetches a web document's source page and
// re-ingests it when the content changed. Used by the scheduled
// re-crawl job.
func (s *DocumentService) RefreshWebDocument(ctx context.Context, db *mongo.Database, doc *models.DocumentRecord) (changed bool, err error) {
	if doc.SourceType != models.SourceTypeWeb || doc.SourceURL == "" {
		return false, nil
	}

	result, err := crawler.FetchPage(doc.SourceURL, false)
	if err != nil {
		return false, err
	}
	if result.Error != nil {
		return false, result.Error
	}
	if strings.TrimSpace(result.Content) == "" {
		return false, fmt.Errorf("page has no extractable content")
	}

	newID := utils.DocumentID(result.Content)
	if newID == doc.ID {
		return false, nil
	}

	// Content changed: ingest the new version, then retire the old one.
	title := result.Title
	if title == "" {
		title = doc.Title
	}

	jobID := startCrawlJob(ctx, db, doc.TenantID, doc.SourceURL)
	resp, err := s.process(ctx, db, doc.TenantID, ingestInput{
		Title:      title,
		Text:       result.Content,
		SourceType: models.SourceTypeWeb,
		SourceURL:  doc.SourceURL,
		Size:       int64(len(result.Content)),
	})
	if err != nil {
		finishCrawlJob(ctx, db, jobID, bson.M{"status": models.CrawlStatusFailed, "error": err.Error()})
		return false, err
	}
	finishCrawlJob(ctx, db, jobID, bson.M{
		"status":        models.CrawlStatusCompleted,
		"document_id":   resp.ID,
		"title":         title,
		"pages_found":   1,
		"pages_crawled": 1,
	})

	if err := s.DeleteDocument(ctx, db, doc.ID); err != nil {
		fmt.Printf("⚠️ Failed to retire stale web document %s: %v\n", doc.ID, err)
	}
	return true, nil
}

// process is the shared pipeline: hash, duplicate check, chunk, embed,
// index, persist.
func (s *DocumentService) process(ctx context.Context, db *mongo.Database, tenantID string, in ingestInput) (*models.IngestResponse, error) {
	docID := utils.DocumentID(in.Text)
	documents := db.Collection("documents")

	// Identical content is a no-op: report the existing record.
	var existing models.DocumentRecord
	err := documents.FindOne(ctx, bson.M{"_id": docID}).Decode(&existing)
	if err == nil {
		return &models.IngestResponse{
			ID:         existing.ID,
			Title:      existing.Title,
			Status:     existing.Status,
			ChunkCount: existing.ChunkCount,
			Duplicate:  true,
			Message:    "document with identical content already exists",
		}, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}

	chunks := s.chunker.ChunkDocument(docID, in.Text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document produced no usable chunks")
	}

	now := time.Now()
	record := models.DocumentRecord{
		ID:           docID,
		TenantID:     tenantID,
		Title:        in.Title,
		SourceType:   in.SourceType,
		SourceURL:    in.SourceURL,
		Filename:     in.Filename,
		StorageKey:   in.StorageKey,
		ContentHash:  docID,
		ChunkCount:   len(chunks),
		QualityScore: 1.0,
		Status:       models.StatusProcessing,
		Chunks:       chunks,
		Metadata:     models.DocumentMeta{Size: in.Size, WordCount: len(strings.Fields(in.Text)), CharacterCount: len(in.Text)},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Extraction != nil {
		record.Metadata.Pages = in.Extraction.Pages
		record.Metadata.ProcessingTime = in.Extraction.ProcessingTime
		record.Metadata.ExtractionMethod = in.Extraction.Method
		record.Metadata.WordCount = in.Extraction.WordCount
		record.Metadata.CharacterCount = in.Extraction.CharacterCount
	}

	if compressed, algo, cErr := utils.CompressText(in.Text); cErr == nil {
		record.Compressed = compressed
		record.CompressAlgo = string(algo)
	}

	if _, err := documents.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Concurrent ingestion of the same content; the other writer won.
			return &models.IngestResponse{
				ID:        docID,
				Title:     in.Title,
				Status:    models.StatusProcessing,
				Duplicate: true,
				Message:   "document with identical content already exists",
			}, nil
		}
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := ai.GenerateEmbeddings(ctx, s.config, texts)
	if err != nil {
		s.markFailed(ctx, db, docID, "embedding generation failed: "+err.Error())
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	entries := make([]models.ChunkIndexEntry, len(chunks))
	for i, ch := range chunks {
		entries[i] = models.ChunkIndexEntry{
			TenantID:   tenantID,
			DocumentID: docID,
			ChunkID:    ch.ChunkID,
			Order:      ch.Order,
			Position:   ch.Position,
			Text:       ch.Text,
			Keywords:   ch.Keywords,
			Vector:     vectors[i],
			SourceURL:  in.SourceURL,
			Filename:   in.Filename,
		}
	}
	if err := s.index.Upsert(ctx, db, entries); err != nil {
		s.markFailed(ctx, db, docID, "chunk indexing failed: "+err.Error())
		return nil, err
	}

	processedAt := time.Now()
	_, err = documents.UpdateOne(ctx, bson.M{"_id": docID}, bson.M{"$set": bson.M{
		"status":       models.StatusCompleted,
		"updated_at":   processedAt,
		"processed_at": processedAt,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize document record: %w", err)
	}

	fmt.Printf("✅ Ingested document %s: %d chunks, %d chars\n", docID, len(chunks), len(in.Text))

	return &models.IngestResponse{
		ID:         docID,
		Title:      in.Title,
		Status:     models.StatusCompleted,
		ChunkCount: len(chunks),
		Message:    "document ingested",
	}, nil
}

func (s *DocumentService) markFailed(ctx context.Context, db *mongo.Database, docID, message string) {
	_, err := db.Collection("documents").UpdateOne(ctx, bson.M{"_id": docID}, bson.M{"$set": bson.M{
		"status":        models.StatusFailed,
		"error_message": message,
		"updated_at":    time.Now(),
	}})
	if err != nil {
		fmt.Printf("Failed to mark document %s failed: %v\n", docID, err)
	}
}

// ValidateUpload checks size and content type limits before any work.
func (s *DocumentService) ValidateUpload(filename string, size int64, contentType string) error {
	if size == 0 {
		return fmt.Errorf("file is empty")
	}
	if size > s.config.MaxFileSize {
		return fmt.Errorf("file size %d exceeds maximum allowed size %d", size, s.config.MaxFileSize)
	}

	if filename == "" {
		return fmt.Errorf("filename is required")
	}
	if len(filename) > 255 {
		return fmt.Errorf("filename too long (max 255 characters)")
	}
	for _, bad := range []string{"../", "..\\", "<", ">", "|", "\x00"} {
		if strings.Contains(filename, bad) {
			return fmt.Errorf("filename contains invalid characters")
		}
	}

	if !IsSupportedFile(filename) {
		return fmt.Errorf("unsupported file type: supported extensions are %s", strings.Join(SupportedExtensions, ", "))
	}

	if contentType != "" {
		allowed := false
		for _, t := range s.config.AllowedTypes {
			if strings.HasPrefix(contentType, strings.TrimSpace(t)) {
				allowed = true
				break
			}
		}
		// Browsers sometimes send octet-stream for known extensions
		if !allowed && !strings.HasPrefix(contentType, "application/octet-stream") {
			return fmt.Errorf("content type %s is not allowed", contentType)
		}
	}

	return nil
}

// ListDocuments returns a page of document records without their chunk
// payloads, newest first.
func (s *DocumentService) ListDocuments(ctx context.Context, db *mongo.Database, status string, page, pageSize int64) ([]models.DocumentRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	documents := db.Collection("documents")
	total, err := documents.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	opts := options.Find().
		SetProjection(bson.M{"content_chunks": 0, "compressed_text": 0}).
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((page - 1) * pageSize).
		SetLimit(pageSize)

	cursor, err := documents.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.DocumentRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, 0, fmt.Errorf("failed to decode documents: %w", err)
	}
	return records, total, nil
}

// GetDocument loads one record without its chunk payloads.
func (s *DocumentService) GetDocument(ctx context.Context, db *mongo.Database, docID string) (*models.DocumentRecord, error) {
	opts := options.FindOne().SetProjection(bson.M{"content_chunks": 0, "compressed_text": 0})

	var record models.DocumentRecord
	err := db.Collection("documents").FindOne(ctx, bson.M{"_id": docID}, opts).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &record, nil
}

// GetDocumentText restores the full source text from cold storage.
func (s *DocumentService) GetDocumentText(ctx context.Context, db *mongo.Database, docID string) (string, error) {
	var record models.DocumentRecord
	err := db.Collection("documents").FindOne(ctx, bson.M{"_id": docID},
		options.FindOne().SetProjection(bson.M{"compressed_text": 1, "compress_algo": 1, "content_chunks": 1})).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return "", fmt.Errorf("document %s not found", docID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load document: %w", err)
	}

	if len(record.Compressed) > 0 {
		return utils.DecompressText(record.Compressed, utils.CompressionAlgorithm(record.CompressAlgo))
	}

	// Old records without compressed text fall back to joining chunks
	var b strings.Builder
	for _, ch := range record.Chunks {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(ch.Text)
	}
	return b.String(), nil
}

// DownloadURL returns a presigned link for the original file, or empty
// when the deployment serves files from local disk.
func (s *DocumentService) DownloadURL(ctx context.Context, db *mongo.Database, docID string) (string, *models.DocumentRecord, error) {
	record, err := s.GetDocument(ctx, db, docID)
	if err != nil {
		return "", nil, err
	}
	if record == nil {
		return "", nil, nil
	}
	if record.StorageKey == "" {
		return "", record, fmt.Errorf("document %s has no stored file", docID)
	}

	url, err := s.storage.PresignedDownloadURL(ctx, record.StorageKey, record.Filename)
	if err != nil {
		return "", record, err
	}
	return url, record, nil
}

// FetchOriginal reads the original stored file for streaming downloads.
func (s *DocumentService) FetchOriginal(ctx context.Context, db *mongo.Database, record *models.DocumentRecord) ([]byte, error) {
	if record.StorageKey == "" {
		return nil, fmt.Errorf("document %s has no stored file", record.ID)
	}
	return s.storage.Fetch(ctx, record.StorageKey)
}

// SourceLookup answers which normalized source URLs already exist in a
// tenant's document registry. Enrichment uses it to flag candidates the
// tenant already ingested.
type SourceLookup struct {
	db *mongo.Database
}

// NewSourceLookup binds a lookup to one tenant database.
func NewSourceLookup(db *mongo.Database) *SourceLookup {
	return &SourceLookup{db: db}
}

// ExistingSourceURLs returns a set of the given URLs that match a
// document's source_url.
func (l *SourceLookup) ExistingSourceURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return existing, nil
	}

	cursor, err := l.db.Collection("documents").Find(ctx,
		bson.M{"source_url": bson.M{"$in": urls}},
		options.Find().SetProjection(bson.M{"source_url": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to check existing sources: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc struct {
			SourceURL string `bson:"source_url"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		existing[doc.SourceURL] = true
	}
	return existing, cursor.Err()
}

// DeleteDocument removes the record, its index entries, its stored file
// and its quality ledger entry.
func (s *DocumentService) DeleteDocument(ctx context.Context, db *mongo.Database, docID string) error {
	var record models.DocumentRecord
	err := db.Collection("documents").FindOne(ctx, bson.M{"_id": docID},
		options.FindOne().SetProjection(bson.M{"storage_key": 1})).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	deleted, err := s.index.DeleteDocument(ctx, db, docID)
	if err != nil {
		return err
	}

	if _, err := db.Collection("documents").DeleteOne(ctx, bson.M{"_id": docID}); err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}

	// Best-effort cleanup of dependent data; the record and chunks are gone
	// already, so failures here only leave harmless orphans.
	db.Collection("document_scores").DeleteOne(ctx, bson.M{"_id": docID})
	db.Collection("document_analytics").DeleteOne(ctx, bson.M{"_id": docID})
	if record.StorageKey != "" {
		if err := s.storage.Delete(ctx, record.StorageKey); err != nil {
			fmt.Printf("Failed to delete stored file %s: %v\n", record.StorageKey, err)
		}
	}

	fmt.Printf("🗑️ Deleted document %s (%d chunks)\n", docID, deleted)
	return nil
}
