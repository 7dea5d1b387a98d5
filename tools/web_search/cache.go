package web_search

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
)

// cachedSearcher memoizes backend results per (query, k) for a fixed TTL.
// Identical queries inside one research run hit the backend once.
type cachedSearcher struct {
	inner WebSearcher
	cache *gocache.Cache
}

// WithCache wraps a searcher with a TTL result cache.
func WithCache(inner WebSearcher, ttl time.Duration) WebSearcher {
	return &cachedSearcher{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *cachedSearcher) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	key := fmt.Sprintf("%d|%s", k, q)
	if v, ok := c.cache.Get(key); ok {
		return v.([]models.Result), nil
	}
	out, err := c.inner.Discover(ctx, q, k)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}
