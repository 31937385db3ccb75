package models

import (
	"time"
)

// DocumentRecord is one ingested source, file upload or web page. The id is
// derived from the content hash, so re-ingesting identical content resolves to
// the same record instead of creating a duplicate.
type DocumentRecord struct {
	ID           string         `bson:"_id" json:"id"` // first 16 hex of the content SHA-1
	TenantID     string         `bson:"tenant_id" json:"tenant_id"`
	Title        string         `bson:"title" json:"title"`
	SourceType   string         `bson:"source_type" json:"source_type"` // upload, web
	SourceURL    string         `bson:"source_url,omitempty" json:"source_url,omitempty"`
	Filename     string         `bson:"filename,omitempty" json:"filename,omitempty"`
	StorageKey   string         `bson:"storage_key,omitempty" json:"-"` // blob storage locator
	ContentHash  string         `bson:"content_hash" json:"content_hash"`
	ChunkCount   int            `bson:"chunk_count" json:"chunk_count"`
	QualityScore float64        `bson:"quality_score" json:"quality_score"` // snapshot of the rating multiplier
	Status       string         `bson:"status" json:"status"`               // pending, processing, completed, failed
	ErrorMessage string         `bson:"error_message,omitempty" json:"error_message,omitempty"`
	Chunks       []ContentChunk `bson:"content_chunks,omitempty" json:"-"`
	Compressed   []byte         `bson:"compressed_text,omitempty" json:"-"` // full source text, compressed for cold storage
	CompressAlgo string         `bson:"compress_algo,omitempty" json:"-"`
	Metadata     DocumentMeta   `bson:"metadata" json:"metadata"`
	CreatedAt    time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at" json:"updated_at"`
	ProcessedAt  *time.Time     `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// ContentChunk is a text chunk inside a DocumentRecord. The denormalized copy
// used for vector search lives in the document_chunks collection.
type ContentChunk struct {
	ChunkID    string   `bson:"chunk_id" json:"chunk_id"`
	Text       string   `bson:"text" json:"text"`
	Order      int      `bson:"order" json:"order"`
	Position   int      `bson:"position,omitempty" json:"position,omitempty"`
	CharCount  int      `bson:"char_count,omitempty" json:"char_count,omitempty"`
	WordCount  int      `bson:"word_count,omitempty" json:"word_count,omitempty"`
	Keywords   []string `bson:"keywords,omitempty" json:"keywords,omitempty"`
	TokenCount int      `bson:"token_count,omitempty" json:"token_count,omitempty"`
}

// DocumentMeta contains extraction metadata
type DocumentMeta struct {
	Size             int64         `bson:"size" json:"size"`
	Pages            int           `bson:"pages,omitempty" json:"pages,omitempty"`
	ProcessingTime   time.Duration `bson:"processing_time" json:"processing_time"`
	ExtractionMethod string        `bson:"extraction_method" json:"extraction_method"`
	WordCount        int           `bson:"word_count" json:"word_count"`
	CharacterCount   int           `bson:"character_count" json:"character_count"`
}

// IngestResponse is returned by all ingestion endpoints. For duplicate content
// it carries the existing record id and Duplicate=true.
type IngestResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Message    string `json:"message"`
	TaskID     string `json:"task_id,omitempty"` // for async processing
}

type IngestTextRequest struct {
	Title string `json:"title" binding:"required,min=1,max=300"`
	Text  string `json:"text" binding:"required,min=1"`
}

type IngestURLRequest struct {
	URL string `json:"url" binding:"required,url"`

	// RenderJS forces the headless-browser fetch path for pages that
	// assemble their content client side.
	RenderJS bool `json:"render_js,omitempty"`
}

// Document processing status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document source types
const (
	SourceTypeUpload = "upload"
	SourceTypeWeb    = "web"
)
