package embed

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// OllamaEmbedder talks to a local Ollama server. nomic-embed-text produces 768 floats.
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

func NewOllamaEmbedder(modelName string) (*OllamaEmbedder, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, errdefs.Configf("invalid OLLAMA_HOST %q: %v", host, err)
	}
	if modelName == "" {
		modelName = "nomic-embed-text"
	}
	cli := ollama.NewClient(u, &http.Client{Timeout: 60 * time.Second})
	return &OllamaEmbedder{client: cli, model: modelName}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return checked("ollama", nil, err)
	}
	if res == nil || len(res.Embeddings) == 0 {
		return checked("ollama", nil, nil)
	}
	return checked("ollama", res.Embeddings[0], nil)
}

// EmbedPassages sends every document in one request.
func (e *OllamaEmbedder) EmbedPassages(ctx context.Context, docs []string) ([][]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{Model: e.model, Input: docs})
	if err != nil {
		_, err = checked("ollama", nil, err)
		return nil, err
	}
	if len(res.Embeddings) != len(docs) {
		return nil, errdefs.Validationf("ollama embed: %d embeddings for %d passages", len(res.Embeddings), len(docs))
	}
	for _, v := range res.Embeddings {
		if _, err := checked("ollama", v, nil); err != nil {
			return nil, err
		}
	}
	return res.Embeddings, nil
}
