package models

import (
	"time"
)

// Rating polarity values
const (
	PolarityPositive = "positive"
	PolarityNegative = "negative"
)

// RatingEvent is one user judgment on one answer. Events are immutable and
// processed at most once; the event id doubles as the idempotency key.
type RatingEvent struct {
	ID            string    `bson:"_id" json:"event_id"`
	TenantID      string    `bson:"tenant_id" json:"tenant_id"`
	Question      string    `bson:"question" json:"question"`
	AnswerHash    string    `bson:"answer_hash" json:"answer_hash"`
	Polarity      string    `bson:"polarity" json:"polarity"`
	DocumentsUsed []string  `bson:"documents_used" json:"documents_used"`
	FeedbackText  string    `bson:"feedback_text,omitempty" json:"feedback_text,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// QualityAggregate holds the per-document vote counters. The counters are the
// authoritative state, updated with atomic $inc; the stored multiplier is a
// derived convenience value and is always recomputable from the counters.
type QualityAggregate struct {
	DocumentID string    `bson:"_id" json:"document_id"`
	TenantID   string    `bson:"tenant_id" json:"tenant_id"`
	Upvotes    int       `bson:"upvotes" json:"upvotes"`
	Downvotes  int       `bson:"downvotes" json:"downvotes"`
	Multiplier float64   `bson:"quality_multiplier" json:"quality_multiplier"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`

	// Set when the review digest last mentioned this document.
	ReviewNotifiedAt time.Time `bson:"review_notified_at,omitempty" json:"-"`
}

type RateRequest struct {
	// EventID is optional. The server issues one when absent; a client
	// retrying a failed submission resends the issued id so the replay
	// cannot double-count.
	EventID       string   `json:"event_id,omitempty"`
	Question      string   `json:"question" binding:"required"`
	Answer        string   `json:"answer" binding:"required"`
	Polarity      string   `json:"polarity" binding:"required,oneof=positive negative"`
	DocumentsUsed []string `json:"documents_used" binding:"required,min=1"`
	FeedbackText  string   `json:"feedback_text,omitempty" binding:"max=2000"`
}

// RateResponse echoes the event id so retries can reuse it.
type RateResponse struct {
	Accepted    bool               `json:"accepted"`
	EventID     string             `json:"event_id"`
	Message     string             `json:"message"`
	Multipliers map[string]float64 `json:"multipliers,omitempty"`
}
