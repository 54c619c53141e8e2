package retrieval

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
)

// Cached wraps a Retriever with an LRU of recent query results. Entries
// carry a TTL so a reindexed knowledge base is picked up without restart.
type Cached struct {
	inner Retriever
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
}

type cacheEntry struct {
	chunks   []Chunk
	storedAt time.Time
}

// NewCached builds the caching decorator. size <= 0 defaults to 256
// entries; ttl <= 0 defaults to five minutes.
func NewCached(inner Retriever, size int, ttl time.Duration) (*Cached, error) {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("building retrieval cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl}, nil
}

// Retrieve answers from cache when a fresh entry exists, otherwise asks
// the inner retriever and stores the result. Errors are never cached.
func (c *Cached) Retrieve(ctx context.Context, query string, topK int) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.cached_query")
	defer span.End()

	key := fmt.Sprintf("%d:%s", topK, query)
	if entry, ok := c.cache.Get(key); ok && time.Since(entry.storedAt) < c.ttl {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return entry.chunks, nil
	}

	chunks, err := c.inner.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cacheEntry{chunks: chunks, storedAt: time.Now()})
	span.SetAttributes(attribute.Bool("cache_hit", false))
	return chunks, nil
}
