// Package embed turns text into the fixed-size vectors the datastore searches over.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// Embedder is a pluggable text-embedding provider. Every implementation returns vectors of
// exactly model.EmbeddingDimension floats.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts a plain function to Embedder.
type Func func(ctx context.Context, text string) ([]float32, error)

func (f Func) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// checked rejects vectors of the wrong size; a model configured for another dimension
// would otherwise poison the index.
func checked(provider string, vec []float32, err error) ([]float32, error) {
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", provider, classify(err))
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%s embed: empty embedding", provider)
	}
	if err := model.ValidateEmbedding(vec); err != nil {
		return nil, fmt.Errorf("%s embed: %w", provider, err)
	}
	return vec, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Unavailable(err)
	}
	return err
}

// Passages embeds many texts with one call when the provider supports it, and one call per
// text otherwise.
func Passages(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if b, ok := e.(interface {
		EmbedPassages(ctx context.Context, docs []string) ([][]float32, error)
	}); ok {
		return b.EmbedPassages(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
