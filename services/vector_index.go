package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// VectorIndex reads and writes the per-tenant chunk index. Each tenant
// database has its own document_chunks collection, so passing the tenant
// database scopes every query to that tenant's namespace.
//
// With MONGODB_VECTOR_ENABLED the query runs as an Atlas $vectorSearch
// aggregation. Without it the query falls back to an in-process cosine
// scan over all chunks, which is fine up to tens of thousands of chunks.
type VectorIndex struct {
	config *config.Config
}

// NewVectorIndex creates a vector index client.
func NewVectorIndex(cfg *config.Config) *VectorIndex {
	return &VectorIndex{config: cfg}
}

// Upsert writes chunk entries keyed by chunk_id. Re-ingesting a document
// replaces its chunks in place rather than duplicating them.
func (v *VectorIndex) Upsert(ctx context.Context, db *mongo.Database, entries []models.ChunkIndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(entries))
	for _, entry := range entries {
		entry.ID = primitive.NilObjectID // let Mongo assign _id on insert
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"chunk_id": entry.ChunkID}).
			SetReplacement(entry).
			SetUpsert(true))
	}

	opts := options.BulkWrite().SetOrdered(false)
	if _, err := db.Collection("document_chunks").BulkWrite(ctx, writes, opts); err != nil {
		return fmt.Errorf("failed to upsert chunk index entries: %w", err)
	}
	return nil
}

// DeleteDocument removes every chunk belonging to a document and returns
// how many were deleted.
func (v *VectorIndex) DeleteDocument(ctx context.Context, db *mongo.Database, documentID string) (int64, error) {
	res, err := db.Collection("document_chunks").DeleteMany(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunk index entries: %w", err)
	}
	return res.DeletedCount, nil
}

// Query returns up to topK chunks nearest to the given vector, sorted by
// descending similarity score.
func (v *VectorIndex) Query(ctx context.Context, db *mongo.Database, vector []float32, topK int) ([]models.ChunkMatch, error) {
	if topK <= 0 {
		topK = v.config.RetrievalTopK
	}

	if v.config.VectorSearchEnabled {
		return v.queryAtlas(ctx, db, vector, topK)
	}
	return v.queryScan(ctx, db, vector, topK)
}

func (v *VectorIndex) queryAtlas(ctx context.Context, db *mongo.Database, vector []float32, topK int) ([]models.ChunkMatch, error) {
	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: v.config.VectorIndexName},
			{Key: "path", Value: "vector"},
			{Key: "queryVector", Value: vector},
			{Key: "numCandidates", Value: numCandidates},
			{Key: "limit", Value: topK},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "chunk_id", Value: 1},
			{Key: "document_id", Value: 1},
			{Key: "text", Value: 1},
			{Key: "position", Value: 1},
			{Key: "source_url", Value: 1},
			{Key: "filename", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}

	aggCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cursor, err := db.Collection("document_chunks").Aggregate(aggCtx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer cursor.Close(aggCtx)

	var matches []models.ChunkMatch
	if err := cursor.All(aggCtx, &matches); err != nil {
		return nil, fmt.Errorf("failed to decode vector search results: %w", err)
	}
	return matches, nil
}

func (v *VectorIndex) queryScan(ctx context.Context, db *mongo.Database, vector []float32, topK int) ([]models.ChunkMatch, error) {
	scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Find().SetProjection(bson.M{
		"chunk_id":    1,
		"document_id": 1,
		"text":        1,
		"position":    1,
		"source_url":  1,
		"filename":    1,
		"vector":      1,
	})

	cursor, err := db.Collection("document_chunks").Find(scanCtx, bson.M{"vector": bson.M{"$exists": true}}, opts)
	if err != nil {
		return nil, fmt.Errorf("chunk scan failed: %w", err)
	}
	defer cursor.Close(scanCtx)

	var matches []models.ChunkMatch
	for cursor.Next(scanCtx) {
		var entry models.ChunkIndexEntry
		if err := cursor.Decode(&entry); err != nil {
			continue
		}

		score := CosineSimilarity(vector, entry.Vector)
		matches = append(matches, models.ChunkMatch{
			ChunkID:    entry.ChunkID,
			DocumentID: entry.DocumentID,
			Text:       entry.Text,
			Position:   entry.Position,
			SourceURL:  entry.SourceURL,
			Filename:   entry.Filename,
			Score:      score,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("chunk scan failed: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// CosineSimilarity computes similarity between two vectors in [-1, 1].
// Mismatched dimensions or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
