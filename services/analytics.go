package services

import (
	"context"
	"fmt"
	"time"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AnalyticsService records per-question events and aggregates them into
// the stats surface and the nightly per-document and per-tenant rollups.
type AnalyticsService struct {
	config *config.Config
}

// NewAnalyticsService creates an analytics service.
func NewAnalyticsService(cfg *config.Config) *AnalyticsService {
	return &AnalyticsService{config: cfg}
}

// RecordQuery writes the single analytics event emitted when a question
// reaches its done state. Query ids are random, so a duplicate key can
// only mean the same event was retried; swallowing it keeps the write
// idempotent.
func (s *AnalyticsService) RecordQuery(ctx context.Context, db *mongo.Database, record *models.QueryAnalytics) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := db.Collection("query_analytics").InsertOne(ctx, record)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// Stats aggregates question and rating activity since the given time.
func (s *AnalyticsService) Stats(ctx context.Context, db *mongo.Database, since time.Time) (*models.SearchStats, error) {
	now := time.Now().UTC()
	stats := &models.SearchStats{PeriodStart: since, PeriodEnd: now}

	queries := db.Collection("query_analytics")
	pipeline := mongo.Pipeline{
		{{"$match", bson.D{{"created_at", bson.D{{"$gte", since}}}}}},
		{{"$group", bson.D{
			{"_id", nil},
			{"total", bson.D{{"$sum", 1}}},
			{"avg_completeness", bson.D{{"$avg", "$completeness"}}},
			{"avg_latency_ms", bson.D{{"$avg", "$latency_ms"}}},
			{"enriched", bson.D{{"$sum", bson.D{{"$cond", bson.A{"$enrichment_performed", 1, 0}}}}}},
		}}},
	}

	cursor, err := queries.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("query stats aggregation failed: %w", err)
	}
	if cursor.Next(ctx) {
		var agg struct {
			Total           int64   `bson:"total"`
			AvgCompleteness float64 `bson:"avg_completeness"`
			AvgLatencyMS    float64 `bson:"avg_latency_ms"`
			Enriched        int64   `bson:"enriched"`
		}
		if err := cursor.Decode(&agg); err != nil {
			_ = cursor.Close(ctx)
			return nil, fmt.Errorf("failed to decode query stats: %w", err)
		}
		stats.TotalQuestions = agg.Total
		stats.AvgCompleteness = agg.AvgCompleteness
		stats.AvgLatencyMS = agg.AvgLatencyMS
		if agg.Total > 0 {
			stats.EnrichmentRate = float64(agg.Enriched) / float64(agg.Total)
		}
	}
	_ = cursor.Close(ctx)

	ratings := db.Collection("ratings")
	stats.TotalRatings, _ = ratings.CountDocuments(ctx, bson.M{"created_at": bson.M{"$gte": since}})
	stats.PositiveRatings, _ = ratings.CountDocuments(ctx, bson.M{
		"created_at": bson.M{"$gte": since},
		"polarity":   models.PolarityPositive,
	})

	top, err := s.topCitedDocuments(ctx, db, since, 5)
	if err != nil {
		fmt.Printf("⚠️ Top cited documents aggregation failed: %v\n", err)
	} else {
		stats.TopCitedDocuments = top
	}

	return stats, nil
}

// topCitedDocuments ranks documents by how often answers cited them.
func (s *AnalyticsService) topCitedDocuments(ctx context.Context, db *mongo.Database, since time.Time, limit int) ([]models.DocumentHits, error) {
	pipeline := mongo.Pipeline{
		{{"$match", bson.D{{"created_at", bson.D{{"$gte", since}}}}}},
		{{"$unwind", "$cited_document_ids"}},
		{{"$group", bson.D{
			{"_id", "$cited_document_ids"},
			{"count", bson.D{{"$sum", 1}}},
		}}},
		{{"$sort", bson.D{{"count", -1}}}},
		{{"$limit", limit}},
	}

	cursor, err := db.Collection("query_analytics").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var hits []models.DocumentHits
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return hits, nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.DocumentID)
	}
	titleCursor, err := db.Collection("documents").Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"title": 1}),
	)
	if err != nil {
		return hits, nil
	}
	defer titleCursor.Close(ctx)

	titles := make(map[string]string, len(hits))
	for titleCursor.Next(ctx) {
		var doc struct {
			ID    string `bson:"_id"`
			Title string `bson:"title"`
		}
		if err := titleCursor.Decode(&doc); err == nil {
			titles[doc.ID] = doc.Title
		}
	}
	for i := range hits {
		hits[i].Title = titles[hits[i].DocumentID]
	}
	return hits, nil
}

// Rollup recounts the per-document and per-tenant aggregates from the
// raw query and rating events. Counts are recomputed from scratch and
// written with replaces, so running the rollup twice is harmless.
func (s *AnalyticsService) Rollup(ctx context.Context, db *mongo.Database) error {
	docCount, err := s.rollupDocuments(ctx, db)
	if err != nil {
		return fmt.Errorf("document rollup failed: %w", err)
	}
	tenantCount, err := s.rollupTenants(ctx, db)
	if err != nil {
		return fmt.Errorf("tenant rollup failed: %w", err)
	}
	fmt.Printf("📊 Analytics rollup: %d documents, %d tenants\n", docCount, tenantCount)
	return nil
}

func (s *AnalyticsService) rollupDocuments(ctx context.Context, db *mongo.Database) (int, error) {
	queries := db.Collection("query_analytics")

	type docAgg struct {
		ID       string    `bson:"_id"`
		TenantID string    `bson:"tenant_id"`
		Count    int       `bson:"count"`
		LastSeen time.Time `bson:"last_seen"`
	}

	perDoc := make(map[string]*models.DocumentAnalytics)

	retrievedPipeline := mongo.Pipeline{
		{{"$unwind", "$retrieved_document_ids"}},
		{{"$group", bson.D{
			{"_id", "$retrieved_document_ids"},
			{"tenant_id", bson.D{{"$first", "$tenant_id"}}},
			{"count", bson.D{{"$sum", 1}}},
			{"last_seen", bson.D{{"$max", "$created_at"}}},
		}}},
	}
	cursor, err := queries.Aggregate(ctx, retrievedPipeline)
	if err != nil {
		return 0, err
	}
	for cursor.Next(ctx) {
		var agg docAgg
		if err := cursor.Decode(&agg); err != nil {
			continue
		}
		perDoc[agg.ID] = &models.DocumentAnalytics{
			DocumentID:      agg.ID,
			TenantID:        agg.TenantID,
			RetrievedCount:  agg.Count,
			LastRetrievedAt: agg.LastSeen,
		}
	}
	_ = cursor.Close(ctx)

	citedPipeline := mongo.Pipeline{
		{{"$unwind", "$cited_document_ids"}},
		{{"$group", bson.D{
			{"_id", "$cited_document_ids"},
			{"tenant_id", bson.D{{"$first", "$tenant_id"}}},
			{"count", bson.D{{"$sum", 1}}},
		}}},
	}
	cursor, err = queries.Aggregate(ctx, citedPipeline)
	if err != nil {
		return 0, err
	}
	for cursor.Next(ctx) {
		var agg docAgg
		if err := cursor.Decode(&agg); err != nil {
			continue
		}
		entry, ok := perDoc[agg.ID]
		if !ok {
			entry = &models.DocumentAnalytics{DocumentID: agg.ID, TenantID: agg.TenantID}
			perDoc[agg.ID] = entry
		}
		entry.CitedCount = agg.Count
	}
	_ = cursor.Close(ctx)

	if len(perDoc) == 0 {
		return 0, nil
	}

	writes := make([]mongo.WriteModel, 0, len(perDoc))
	for _, entry := range perDoc {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": entry.DocumentID}).
			SetReplacement(entry).
			SetUpsert(true))
	}
	_, err = db.Collection("document_analytics").BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	return len(perDoc), err
}

func (s *AnalyticsService) rollupTenants(ctx context.Context, db *mongo.Database) (int, error) {
	pipeline := mongo.Pipeline{
		{{"$group", bson.D{
			{"_id", "$tenant_id"},
			{"question_count", bson.D{{"$sum", 1}}},
			{"enrichment_count", bson.D{{"$sum", bson.D{{"$cond", bson.A{"$enrichment_performed", 1, 0}}}}}},
			{"completeness_sum", bson.D{{"$sum", "$completeness"}}},
			{"total_latency_ms", bson.D{{"$sum", "$latency_ms"}}},
			{"last_active_at", bson.D{{"$max", "$created_at"}}},
		}}},
	}

	cursor, err := db.Collection("query_analytics").Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	count := 0
	for cursor.Next(ctx) {
		var agg struct {
			TenantID        string    `bson:"_id"`
			QuestionCount   int       `bson:"question_count"`
			EnrichmentCount int       `bson:"enrichment_count"`
			CompletenessSum float64   `bson:"completeness_sum"`
			TotalLatencyMS  int64     `bson:"total_latency_ms"`
			LastActiveAt    time.Time `bson:"last_active_at"`
		}
		if err := cursor.Decode(&agg); err != nil {
			continue
		}

		ratingCount, _ := db.Collection("ratings").CountDocuments(ctx, bson.M{"tenant_id": agg.TenantID})

		entry := models.UserAnalytics{
			TenantID:        agg.TenantID,
			QuestionCount:   agg.QuestionCount,
			RatingCount:     int(ratingCount),
			EnrichmentCount: agg.EnrichmentCount,
			LastActiveAt:    agg.LastActiveAt,
			TotalLatencyMS:  agg.TotalLatencyMS,
			CompletenessSum: agg.CompletenessSum,
		}
		if agg.QuestionCount > 0 {
			entry.AvgCompleteness = agg.CompletenessSum / float64(agg.QuestionCount)
		}

		_, err := db.Collection("user_analytics").ReplaceOne(ctx,
			bson.M{"_id": agg.TenantID},
			entry,
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			fmt.Printf("⚠️ Tenant rollup write failed for %s: %v\n", agg.TenantID, err)
			continue
		}
		count++
	}
	return count, nil
}
