package embed

import (
	"context"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/cache"
)

// Cached memoises embeddings by text. Repeated searches in one conversation ("coffee",
// "coffee near gate B") hit the cache instead of the provider.
type Cached struct {
	Embedder Embedder
	cache    *cache.LRU[[]float32]
}

// NewCached wraps e with an LRU of the given size and TTL.
func NewCached(e Embedder, size int, ttl time.Duration) *Cached {
	return &Cached{Embedder: e, cache: cache.NewLRU[[]float32](size, ttl)}
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.HashKey(text)
	if v, ok := c.cache.Get(key); ok {
		return append([]float32(nil), v...), nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]float32(nil), v...))
	return v, nil
}

// Len is the number of cached texts.
func (c *Cached) Len() int { return c.cache.Len() }
