package embed

import (
	"context"
	"os"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// GeminiEmbedder uses Google's text-embedding-004, which produces 768 floats.
type GeminiEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
}

func NewGeminiEmbedder(ctx context.Context, modelName string) (*GeminiEmbedder, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errdefs.Configf("gemini embed: missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	cli, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errdefs.Configf("gemini embed: %v", err)
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cli, model: cli.EmbeddingModel(modelName)}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return checked("gemini", nil, err)
	}
	if resp == nil || resp.Embedding == nil {
		return checked("gemini", nil, nil)
	}
	return checked("gemini", resp.Embedding.Values, nil)
}

// EmbedPassages batches documents through BatchEmbedContents.
func (e *GeminiEmbedder) EmbedPassages(ctx context.Context, docs []string) ([][]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	batch := e.model.NewBatch()
	for _, d := range docs {
		batch.AddContent(genai.Text(d))
	}
	resp, err := e.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		_, err = checked("gemini", nil, err)
		return nil, err
	}
	if len(resp.Embeddings) != len(docs) {
		return nil, errdefs.Validationf("gemini embed: %d embeddings for %d passages", len(resp.Embeddings), len(docs))
	}
	out := make([][]float32, len(docs))
	for i, emb := range resp.Embeddings {
		v, err := checked("gemini", emb.Values, nil)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *GeminiEmbedder) Close() error { return e.client.Close() }
