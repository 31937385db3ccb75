package ai

import (
	"context"
	"fmt"

	"kb-search-platform/internal/config"

	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"
)

// GenerateEmbedding returns an embedding vector for the given text.
// Default provider is Google Generative AI (text-embedding-004, 768 dims);
// the OpenAI provider uses text-embedding-3-small (1536 dims). The configured
// VECTOR_DIM must match the provider's output or index writes will fail.
func GenerateEmbedding(ctx context.Context, cfg *config.Config, text string) ([]float32, error) {
	switch cfg.EmbeddingsProvider {
	case "google", "":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
		}
		client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
		if err != nil {
			return nil, err
		}
		defer client.Close()

		model := client.EmbeddingModel(cfg.GoogleEmbeddingsModel)
		resp, err := model.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if resp.Embedding == nil {
			return nil, fmt.Errorf("no embedding returned")
		}

		// genai SDK returns []float32 for Embedding.Values
		return resp.Embedding.Values, nil

	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("missing OPENAI_API_KEY for embeddings")
		}
		client := openai.NewClient(cfg.OpenAIAPIKey)

		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(cfg.OpenAIEmbeddingsModel),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}

		return resp.Data[0].Embedding, nil

	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
}

// GenerateEmbeddings embeds a batch of texts. The OpenAI API accepts the whole
// batch in one request; the Google SDK is called per item.
func GenerateEmbeddings(ctx context.Context, cfg *config.Config, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if cfg.EmbeddingsProvider == "openai" {
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("missing OPENAI_API_KEY for embeddings")
		}
		client := openai.NewClient(cfg.OpenAIAPIKey)

		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(cfg.OpenAIEmbeddingsModel),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(resp.Data), len(texts))
		}

		vectors := make([][]float32, len(texts))
		for _, item := range resp.Data {
			vectors[item.Index] = item.Embedding
		}
		return vectors, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := GenerateEmbedding(ctx, cfg, text)
		if err != nil {
			return nil, fmt.Errorf("embedding item %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
