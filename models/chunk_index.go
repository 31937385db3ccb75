package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// ChunkIndexEntry is a denormalized chunk for Atlas VectorSearch. Keeping a
// separate collection enables efficient $vectorSearch with a tenant filter.
// chunk_id is "<document_id>:chunk_<n>" and is unique within a tenant; the
// vector dimensionality is fixed by the index schema (VECTOR_DIM).
type ChunkIndexEntry struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	TenantID   string             `bson:"tenant_id"`
	DocumentID string             `bson:"document_id"`
	ChunkID    string             `bson:"chunk_id"`
	Order      int                `bson:"order"`
	Position   int                `bson:"position,omitempty"` // page number or ordinal within the source
	Text       string             `bson:"text"`
	Keywords   []string           `bson:"keywords,omitempty"`
	Vector     []float32          `bson:"vector,omitempty"`
	SourceURL  string             `bson:"source_url,omitempty"`
	Filename   string             `bson:"filename,omitempty"`
}

// ChunkMatch is one vector search hit with its raw cosine similarity score.
type ChunkMatch struct {
	ChunkID    string  `bson:"chunk_id" json:"chunk_id"`
	DocumentID string  `bson:"document_id" json:"document_id"`
	Text       string  `bson:"text" json:"text"`
	Position   int     `bson:"position" json:"position"`
	SourceURL  string  `bson:"source_url,omitempty" json:"source_url,omitempty"`
	Filename   string  `bson:"filename,omitempty" json:"filename,omitempty"`
	Score      float64 `bson:"score" json:"score"`
}
