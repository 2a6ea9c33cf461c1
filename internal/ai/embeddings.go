package ai

import (
	"context"
	"fmt"

	"research-insight-platform/internal/config"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// EmbeddingClient generates fixed-dimension vectors for chunk and query
// text. One instance is shared across jobs; the vectors themselves are
// job-scoped through the index they land in.
type EmbeddingClient struct {
	client *genai.Client
	model  string
	dim    int
}

func NewEmbeddingClient(cfg *config.Config) (*EmbeddingClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}
	return &EmbeddingClient{
		client: client,
		model:  cfg.EmbeddingsModel,
		dim:    cfg.VectorDimensions,
	}, nil
}

// Embed returns an embedding vector for the given text.
func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	model := e.client.EmbeddingModel(e.model)
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("no embedding returned")
	}
	if e.dim > 0 && len(resp.Embedding.Values) != e.dim {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(resp.Embedding.Values), e.dim)
	}
	return resp.Embedding.Values, nil
}

// EmbedBatch embeds several texts in one API round trip.
func (e *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := e.client.EmbeddingModel(e.model)
	batch := model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if e.dim > 0 && len(emb.Values) != e.dim {
			return nil, fmt.Errorf("embedding %d dimension %d, want %d", i, len(emb.Values), e.dim)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

func (e *EmbeddingClient) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
