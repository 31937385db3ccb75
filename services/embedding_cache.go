package services

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kb-search-platform/internal/config"

	"github.com/redis/go-redis/v9"
)

// embeddingTTL bounds how long a cached vector is kept. Embeddings for
// a fixed model are deterministic, so the TTL caps memory rather than
// staleness.
const embeddingTTL = 24 * time.Hour

// EmbeddingCache stores query embedding vectors in Redis so repeated
// questions and their paraphrases skip the embeddings API. Keys include
// the provider and model, so switching either starts a fresh keyspace.
type EmbeddingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewEmbeddingCache creates an embedding cache. A nil client yields a
// cache that always misses, which keeps retrieval working without Redis.
func NewEmbeddingCache(rdb *redis.Client) *EmbeddingCache {
	return &EmbeddingCache{rdb: rdb, ttl: embeddingTTL}
}

// Get returns the cached vector for text, if present.
func (c *EmbeddingCache) Get(ctx context.Context, cfg *config.Config, text string) ([]float32, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, embeddingKey(cfg, text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			fmt.Printf("Embedding cache read failed: %v\n", err)
		}
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil || len(vector) == 0 {
		return nil, false
	}
	return vector, true
}

// Put stores a vector. A failed write only costs a future cache miss,
// so errors are logged and swallowed.
func (c *EmbeddingCache) Put(ctx context.Context, cfg *config.Config, text string, vector []float32) {
	if c == nil || c.rdb == nil || len(vector) == 0 {
		return
	}

	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, embeddingKey(cfg, text), data, c.ttl).Err(); err != nil {
		fmt.Printf("Embedding cache write failed: %v\n", err)
	}
}

// embeddingKey derives the Redis key for one piece of text under the
// configured embeddings provider and model.
func embeddingKey(cfg *config.Config, text string) string {
	provider := cfg.EmbeddingsProvider
	model := cfg.GoogleEmbeddingsModel
	if provider == "" {
		provider = "google"
	}
	if provider == "openai" {
		model = cfg.OpenAIEmbeddingsModel
	}
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%s:%x", provider, model, sum)
}
