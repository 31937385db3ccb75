package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CrawlJob tracks a web ingestion run: the initial fetch for a URL document
// and any scheduled re-crawl that found changed content.
type CrawlJob struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID     string             `bson:"tenant_id" json:"tenant_id"`
	URL          string             `bson:"url" json:"url"`
	DocumentID   string             `bson:"document_id,omitempty" json:"document_id,omitempty"`
	Status       string             `bson:"status" json:"status"` // crawling, completed, failed
	Title        string             `bson:"title,omitempty" json:"title,omitempty"`
	MaxPages     int                `bson:"max_pages,omitempty" json:"max_pages,omitempty"`
	PagesFound   int                `bson:"pages_found" json:"pages_found"`
	PagesCrawled int                `bson:"pages_crawled" json:"pages_crawled"`
	Error        string             `bson:"error,omitempty" json:"error,omitempty"`

	ProcessingTime time.Duration `bson:"processing_time,omitempty" json:"processing_time,omitempty"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// CrawledPage is one fetched page inside a crawl run. Pages are joined
// into a single document at ingestion, so this is transient state.
type CrawledPage struct {
	URL        string    `bson:"url" json:"url"`
	Title      string    `bson:"title" json:"title"`
	Content    string    `bson:"content" json:"content"`
	CrawledAt  time.Time `bson:"crawled_at" json:"crawled_at"`
	StatusCode int       `bson:"status_code" json:"status_code"`
	Size       int64     `bson:"size" json:"size"`
	WordCount  int       `bson:"word_count,omitempty" json:"word_count,omitempty"`
}

const (
	CrawlStatusCrawling  = "crawling"
	CrawlStatusCompleted = "completed"
	CrawlStatusFailed    = "failed"
)
