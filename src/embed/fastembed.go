//go:build fastembed

package embed

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedder runs BGE base locally through ONNX runtime.
type FastEmbedder struct {
	m  *fastembed.FlagEmbedding
	bs int
}

// FastEmbedAvailable reports whether the binary was built with the fastembed tag.
const FastEmbedAvailable = true

func NewFastEmbedder(modelName, cacheDir string) (*FastEmbedder, error) {
	if modelName == "" {
		modelName = string(fastembed.BGEBaseENV15)
	}
	if cacheDir == "" {
		cacheDir = ".fastembed"
	}
	m, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:    fastembed.EmbeddingModel(modelName),
		CacheDir: cacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("fastembed init: %w", err)
	}
	return &FastEmbedder{m: m, bs: 4 * runtime.GOMAXPROCS(0)}, nil
}

func (e *FastEmbedder) Close() error {
	if e.m != nil {
		e.m.Destroy()
	}
	return nil
}

func (e *FastEmbedder) EmbedPassages(_ context.Context, docs []string) ([][]float32, error) {
	inputs := make([]string, len(docs))
	for i, d := range docs {
		if strings.HasPrefix(d, "passage:") {
			inputs[i] = d
		} else {
			inputs[i] = "passage: " + d
		}
	}
	out, err := e.m.PassageEmbed(inputs, e.bs)
	if err != nil {
		return nil, fmt.Errorf("passage embed: %w", err)
	}
	for _, v := range out {
		if _, err := checked("fastembed", v, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *FastEmbedder) Embed(_ context.Context, q string) ([]float32, error) {
	v, err := e.m.QueryEmbed(q)
	return checked("fastembed", v, err)
}
