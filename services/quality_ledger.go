package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"
	"kb-search-platform/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrInvalidRating marks a rating that names documents the rated answer
// never cited, or an answer the system has no record of. Nothing is
// mutated when this is returned.
var ErrInvalidRating = errors.New("invalid rating")

// QualityLedger owns the per-document vote counters and the quality
// multiplier derived from them. Counter updates go through atomic $inc,
// so concurrent ratings on the same document never lose votes. The
// multiplier is always computed from the counters on read; the stored
// copy on the aggregate is a dashboard convenience.
type QualityLedger struct {
	config *config.Config
}

// NewQualityLedger creates a quality ledger.
func NewQualityLedger(cfg *config.Config) *QualityLedger {
	return &QualityLedger{config: cfg}
}

// HashAnswer produces the stable fingerprint linking a rating back to
// the analytics record of the answer it rates.
func HashAnswer(answer string) string {
	return utils.ContentHash(strings.TrimSpace(answer))
}

// ComputeMultiplier derives the ranking multiplier from vote counters.
// Below the minimum vote count the multiplier is exactly neutral, so
// sparse feedback never sways ranking.
func (l *QualityLedger) ComputeMultiplier(upvotes, downvotes int) float64 {
	total := upvotes + downvotes
	if total < l.config.QualityMinVotes {
		return 1.0
	}

	m := 1.0 + l.config.QualityFeedbackGain*float64(upvotes-downvotes)/float64(total)
	if m < l.config.QualityMultiplierFloor {
		return l.config.QualityMultiplierFloor
	}
	if m > l.config.QualityMultiplierCeiling {
		return l.config.QualityMultiplierCeiling
	}
	return m
}

// RecordRating validates and applies one rating event.
//
// The event id is the idempotency key: a replay (queue redelivery,
// client retry with the same event) finds the stored event and returns
// the current multipliers without touching any counter. A rating that
// names a document the answer did not cite is rejected outright.
func (l *QualityLedger) RecordRating(ctx context.Context, db *mongo.Database, event models.RatingEvent) (*models.RateResponse, error) {
	if event.ID == "" {
		return nil, fmt.Errorf("rating event has no id")
	}
	if event.Polarity != models.PolarityPositive && event.Polarity != models.PolarityNegative {
		return nil, fmt.Errorf("%w: polarity must be positive or negative", ErrInvalidRating)
	}
	if len(event.DocumentsUsed) == 0 {
		return nil, fmt.Errorf("%w: no documents named", ErrInvalidRating)
	}

	cited, err := l.citedDocuments(ctx, db, event.AnswerHash)
	if err != nil {
		return nil, err
	}
	if cited == nil {
		return nil, fmt.Errorf("%w: no answer found for this rating", ErrInvalidRating)
	}

	var uncited []string
	for _, docID := range event.DocumentsUsed {
		if _, ok := cited[docID]; !ok {
			uncited = append(uncited, docID)
		}
	}
	if len(uncited) > 0 {
		return nil, fmt.Errorf("%w: documents not cited by the rated answer: %s", ErrInvalidRating, strings.Join(uncited, ", "))
	}

	// Record the event first. A duplicate key here means this exact event
	// was already applied, so the counters must not move again.
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if _, err := db.Collection("ratings").InsertOne(ctx, event); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			multipliers, mErr := l.GetMultipliers(ctx, db, event.DocumentsUsed)
			if mErr != nil {
				return nil, mErr
			}
			return &models.RateResponse{
				Accepted:    true,
				EventID:     event.ID,
				Message:     "rating already recorded",
				Multipliers: multipliers,
			}, nil
		}
		return nil, fmt.Errorf("failed to record rating event: %w", err)
	}

	multipliers := make(map[string]float64, len(event.DocumentsUsed))
	for _, docID := range event.DocumentsUsed {
		m, err := l.applyVote(ctx, db, event.TenantID, docID, event.Polarity)
		if err != nil {
			return nil, err
		}
		multipliers[docID] = m
	}

	return &models.RateResponse{
		Accepted:    true,
		EventID:     event.ID,
		Message:     "rating recorded",
		Multipliers: multipliers,
	}, nil
}

// citedDocuments resolves the cited set of the most recent answer with
// the given hash. Returns nil when no such answer exists.
func (l *QualityLedger) citedDocuments(ctx context.Context, db *mongo.Database, answerHash string) (map[string]struct{}, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"cited_document_ids": 1})

	var record models.QueryAnalytics
	err := db.Collection("query_analytics").FindOne(ctx, bson.M{"answer_hash": answerHash}, opts).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up rated answer: %w", err)
	}

	cited := make(map[string]struct{}, len(record.CitedDocumentIDs))
	for _, id := range record.CitedDocumentIDs {
		cited[id] = struct{}{}
	}
	return cited, nil
}

// applyVote increments one counter atomically and returns the
// multiplier derived from the post-increment counts.
func (l *QualityLedger) applyVote(ctx context.Context, db *mongo.Database, tenantID, docID, polarity string) (float64, error) {
	field := "upvotes"
	if polarity == models.PolarityNegative {
		field = "downvotes"
	}

	update := bson.M{
		"$inc":         bson.M{field: 1},
		"$set":         bson.M{"updated_at": time.Now()},
		"$setOnInsert": bson.M{"tenant_id": tenantID},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var agg models.QualityAggregate
	err := db.Collection("document_scores").FindOneAndUpdate(ctx, bson.M{"_id": docID}, update, opts).Decode(&agg)
	if err != nil {
		return 0, fmt.Errorf("failed to update quality aggregate for %s: %w", docID, err)
	}

	multiplier := l.ComputeMultiplier(agg.Upvotes, agg.Downvotes)

	// Snapshot the derived value for dashboards. Stale on a concurrent
	// race, but the counters stay authoritative and the next vote or any
	// read through MultiplierFor corrects it.
	db.Collection("document_scores").UpdateOne(ctx, bson.M{"_id": docID},
		bson.M{"$set": bson.M{"quality_multiplier": multiplier}})
	db.Collection("documents").UpdateOne(ctx, bson.M{"_id": docID},
		bson.M{"$set": bson.M{"quality_score": multiplier}})

	return multiplier, nil
}

// MultiplierFor returns the current multiplier for one document.
// Documents with no aggregate are neutral.
func (l *QualityLedger) MultiplierFor(ctx context.Context, db *mongo.Database, docID string) float64 {
	var agg models.QualityAggregate
	err := db.Collection("document_scores").FindOne(ctx, bson.M{"_id": docID}).Decode(&agg)
	if err != nil {
		return 1.0
	}
	return l.ComputeMultiplier(agg.Upvotes, agg.Downvotes)
}

// GetMultipliers resolves multipliers for a set of documents in one
// query. Every requested id gets an entry; unknown documents are 1.0.
func (l *QualityLedger) GetMultipliers(ctx context.Context, db *mongo.Database, docIDs []string) (map[string]float64, error) {
	multipliers := make(map[string]float64, len(docIDs))
	for _, id := range docIDs {
		multipliers[id] = 1.0
	}
	if len(docIDs) == 0 {
		return multipliers, nil
	}

	cursor, err := db.Collection("document_scores").Find(ctx, bson.M{"_id": bson.M{"$in": docIDs}})
	if err != nil {
		return nil, fmt.Errorf("failed to load quality aggregates: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var agg models.QualityAggregate
		if err := cursor.Decode(&agg); err != nil {
			continue
		}
		multipliers[agg.DocumentID] = l.ComputeMultiplier(agg.Upvotes, agg.Downvotes)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to load quality aggregates: %w", err)
	}
	return multipliers, nil
}
