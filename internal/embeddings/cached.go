package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/ziadkadry99/ragbudget/internal/cache"
)

// CachedEmbedder memoizes vectors per (model, text). Concurrent requests for
// the same uncached text share one backend call.
type CachedEmbedder struct {
	inner Embedder
	store *cache.Store[[]float32]
	group singleflight.Group
}

// NewCached wraps inner with store.
func NewCached(inner Embedder, store *cache.Store[[]float32]) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, store: store}
}

func (c *CachedEmbedder) Name() string    { return c.inner.Name() }
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Embed serves cached vectors and embeds the rest one text at a time.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		key := cache.EmbeddingKey(c.inner.Name(), text)
		if v, ok := c.store.Get(key); ok {
			out[i] = v
			continue
		}

		v, err, _ := c.group.Do(key, func() (any, error) {
			vecs, err := c.inner.Embed(ctx, []string{text})
			if err != nil {
				return nil, err
			}
			if len(vecs) != 1 {
				return nil, fmt.Errorf("embeddings: %s returned %d vectors, expected 1", c.inner.Name(), len(vecs))
			}
			c.store.Put(key, vecs[0], 0)
			return vecs[0], nil
		})
		if err != nil {
			return nil, err
		}
		out[i] = v.([]float32)
	}
	return out, nil
}
