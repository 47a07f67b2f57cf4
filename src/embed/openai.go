package embed

import (
	"context"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// OpenAIEmbedder calls the embeddings endpoint, asking for model.EmbeddingDimension outputs.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(modelName string) (*OpenAIEmbedder, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		key = os.Getenv("OPENAI_KEY")
	}
	if key == "" {
		return nil, errdefs.Configf("openai embed: OPENAI_API_KEY is not set")
	}
	cfg := openai.DefaultConfig(key)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	if modelName == "" {
		modelName = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: modelName}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      []string{text},
		Dimensions: model.EmbeddingDimension,
	})
	if err != nil {
		return checked("openai", nil, err)
	}
	if len(resp.Data) == 0 {
		return checked("openai", nil, nil)
	}
	return checked("openai", resp.Data[0].Embedding, nil)
}

// EmbedPassages sends all texts in one request.
func (e *OpenAIEmbedder) EmbedPassages(ctx context.Context, docs []string) ([][]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      docs,
		Dimensions: model.EmbeddingDimension,
	})
	if err != nil {
		_, err = checked("openai", nil, err)
		return nil, err
	}
	out := make([][]float32, len(docs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		v, err := checked("openai", d.Embedding, nil)
		if err != nil {
			return nil, err
		}
		out[d.Index] = v
	}
	for i, v := range out {
		if v == nil {
			return nil, errdefs.Validationf("openai embed: no embedding returned for passage %d", i)
		}
	}
	return out, nil
}
