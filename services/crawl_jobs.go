package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kb-search-platform/models"
)

// startCrawlJob opens a crawl job record in the tenant's crawl_jobs
// collection. Job tracking never blocks ingestion, so failures only log
// and return the zero id, which finishCrawlJob treats as a no-op.
func startCrawlJob(ctx context.Context, db *mongo.Database, tenantID, url string) primitive.ObjectID {
	now := time.Now()
	job := models.CrawlJob{
		ID:        primitive.NewObjectID(),
		TenantID:  tenantID,
		URL:       url,
		Status:    models.CrawlStatusCrawling,
		MaxPages:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := db.Collection("crawl_jobs").InsertOne(ctx, job); err != nil {
		fmt.Printf("⚠️ Failed to record crawl job for %s: %v\n", url, err)
		return primitive.NilObjectID
	}
	return job.ID
}

// finishCrawlJob closes a crawl job with its outcome fields.
func finishCrawlJob(ctx context.Context, db *mongo.Database, jobID primitive.ObjectID, fields bson.M) {
	if jobID.IsZero() {
		return
	}

	now := time.Now()
	fields["updated_at"] = now
	fields["completed_at"] = now

	_, err := db.Collection("crawl_jobs").UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$set": fields})
	if err != nil {
		fmt.Printf("⚠️ Failed to close crawl job %s: %v\n", jobID.Hex(), err)
	}
}

// ListCrawlJobs returns the tenant's web ingestion history, newest first.
func (s *DocumentService) ListCrawlJobs(ctx context.Context, db *mongo.Database, status string, page, pageSize int64) ([]models.CrawlJob, int64, error) {
	col := db.Collection("crawl_jobs")

	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count crawl jobs: %w", err)
	}

	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetSkip((page - 1) * pageSize).
		SetLimit(pageSize)

	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list crawl jobs: %w", err)
	}
	defer cursor.Close(ctx)

	jobs := []models.CrawlJob{}
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode crawl jobs: %w", err)
	}
	return jobs, total, nil
}
