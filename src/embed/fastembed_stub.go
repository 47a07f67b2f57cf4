//go:build !fastembed

package embed

import (
	"context"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// FastEmbedder is unavailable in this build; rebuild with -tags fastembed.
type FastEmbedder struct{}

const FastEmbedAvailable = false

func NewFastEmbedder(_, _ string) (*FastEmbedder, error) {
	return nil, errdefs.Configf("fastembed support not included; rebuild with -tags fastembed")
}

func (*FastEmbedder) Close() error { return nil }

func (*FastEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errdefs.Configf("fastembed support not included")
}
