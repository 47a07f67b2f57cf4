package embed

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// New builds the embedder named by provider:
// openai | gemini (google) | ollama | fastembed | deterministic.
// An empty provider is inferred from the API keys in the environment and falls back to
// Deterministic.
func New(ctx context.Context, provider, modelName string) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		e, err = nonNil(NewOpenAIEmbedder(modelName))
	case "gemini", "google":
		e, err = nonNil(NewGeminiEmbedder(ctx, modelName))
	case "ollama":
		e, err = nonNil(NewOllamaEmbedder(modelName))
	case "fastembed":
		e, err = nonNil(NewFastEmbedder(modelName, os.Getenv("FASTEMBED_CACHE_DIR")))
	case "deterministic", "dummy":
		e = Deterministic{}
	case "":
		e = Auto(ctx, modelName)
	default:
		err = errdefs.Configf("unknown embedding provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// nonNil keeps a failed constructor from producing a non-nil interface holding a nil pointer.
func nonNil[T Embedder](e T, err error) (Embedder, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Auto picks a provider from the available credentials.
func Auto(ctx context.Context, modelName string) Embedder {
	if os.Getenv("OPENAI_API_KEY") != "" {
		if e, err := NewOpenAIEmbedder(modelName); err == nil {
			return e
		}
	}
	if os.Getenv("GOOGLE_API_KEY") != "" || os.Getenv("GEMINI_API_KEY") != "" {
		if e, err := NewGeminiEmbedder(ctx, modelName); err == nil {
			return e
		}
	}
	log.Printf("[embed] no embedding provider configured; using deterministic embeddings")
	return Deterministic{}
}
