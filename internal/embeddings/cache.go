package embeddings

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbedder memoizes Embed results for a short time. It is meant for
// search queries, which repeat; chunk text is embedded uncached.
type CachedEmbedder struct {
	next    Embedder
	cache   *expirable.LRU[string, []float32]
	metrics *Metrics
}

// NewCachedEmbedder caches up to size vectors for ttl.
func NewCachedEmbedder(next Embedder, size int, ttl time.Duration, metrics *Metrics) *CachedEmbedder {
	if size <= 0 {
		size = 256
	}
	return &CachedEmbedder{
		next:    next,
		cache:   expirable.NewLRU[string, []float32](size, nil, ttl),
		metrics: metrics,
	}
}

// Embed implements Embedder. Failures are not cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		c.metrics.RecordCache(ctx, true)
		return cloneVector(vec), nil
	}
	c.metrics.RecordCache(ctx, false)

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, cloneVector(vec))
	return vec, nil
}

// Dimension implements Embedder.
func (c *CachedEmbedder) Dimension() int { return c.next.Dimension() }

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

// Purge drops every cached vector.
func (c *CachedEmbedder) Purge() { c.cache.Purge() }

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
