package services

import (
	"context"
	"strings"
	"testing"

	"kb-search-platform/internal/config"
)

func TestEmbeddingKeyIncludesProviderAndModel(t *testing.T) {
	google := &config.Config{EmbeddingsProvider: "google", GoogleEmbeddingsModel: "text-embedding-004"}
	openAI := &config.Config{EmbeddingsProvider: "openai", OpenAIEmbeddingsModel: "text-embedding-3-small"}

	gKey := embeddingKey(google, "what is a tenant")
	oKey := embeddingKey(openAI, "what is a tenant")

	if gKey == oKey {
		t.Error("different providers must not share cache keys")
	}
	if !strings.HasPrefix(gKey, "emb:google:text-embedding-004:") {
		t.Errorf("unexpected key shape: %s", gKey)
	}

	otherModel := &config.Config{EmbeddingsProvider: "google", GoogleEmbeddingsModel: "text-embedding-005"}
	if embeddingKey(otherModel, "what is a tenant") == gKey {
		t.Error("different models must not share cache keys")
	}
}

func TestEmbeddingKeyDefaultsToGoogle(t *testing.T) {
	implicit := &config.Config{GoogleEmbeddingsModel: "text-embedding-004"}
	explicit := &config.Config{EmbeddingsProvider: "google", GoogleEmbeddingsModel: "text-embedding-004"}

	if embeddingKey(implicit, "q") != embeddingKey(explicit, "q") {
		t.Error("empty provider should key the same as explicit google")
	}
}

func TestEmbeddingKeyVariesByText(t *testing.T) {
	cfg := &config.Config{EmbeddingsProvider: "google", GoogleEmbeddingsModel: "text-embedding-004"}
	if embeddingKey(cfg, "first question") == embeddingKey(cfg, "second question") {
		t.Error("distinct texts must hash to distinct keys")
	}
	if embeddingKey(cfg, "same question") != embeddingKey(cfg, "same question") {
		t.Error("key derivation must be deterministic")
	}
}

func TestEmbeddingCacheWithoutRedis(t *testing.T) {
	cfg := &config.Config{EmbeddingsProvider: "google", GoogleEmbeddingsModel: "text-embedding-004"}
	cache := NewEmbeddingCache(nil)

	if _, ok := cache.Get(context.Background(), cfg, "q"); ok {
		t.Error("cache without a Redis client should always miss")
	}

	// Must be a no-op, not a panic.
	cache.Put(context.Background(), cfg, "q", []float32{0.1, 0.2})

	var nilCache *EmbeddingCache
	if _, ok := nilCache.Get(context.Background(), cfg, "q"); ok {
		t.Error("nil cache should miss")
	}
	nilCache.Put(context.Background(), cfg, "q", []float32{0.1})
}
