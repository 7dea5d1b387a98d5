package web_search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
)

type countingSearcher struct {
	calls int
	err   error
}

func (c *countingSearcher) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []models.Result{{Title: q, URL: "https://example.com/" + q}}, nil
}

func TestWithCacheMemoizes(t *testing.T) {
	inner := &countingSearcher{}
	s := WithCache(inner, time.Minute)

	ctx := context.Background()
	first, err := s.Discover(ctx, "query", 3)
	require.NoError(t, err)
	second, err := s.Discover(ctx, "query", 3)
	require.NoError(t, err)

	require.Equal(t, 1, inner.calls, "identical query must hit the backend once")
	require.Equal(t, first, second)

	_, err = s.Discover(ctx, "query", 5)
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls, "different k is a different cache key")

	_, err = s.Discover(ctx, "other query", 3)
	require.NoError(t, err)
	require.Equal(t, 3, inner.calls)
}

func TestWithCacheSkipsErrors(t *testing.T) {
	inner := &countingSearcher{err: errors.New("backend down")}
	s := WithCache(inner, time.Minute)

	ctx := context.Background()
	_, err := s.Discover(ctx, "q", 3)
	require.Error(t, err)
	_, err = s.Discover(ctx, "q", 3)
	require.Error(t, err)
	require.Equal(t, 2, inner.calls, "errors must not be cached")
}

func TestNewWebSearcher(t *testing.T) {
	_, err := NewWebSearcher(config.SearchConfig{Source: "serper"}, nil)
	require.ErrorContains(t, err, "api key")

	s, err := NewWebSearcher(config.SearchConfig{Source: "serper", SerperAPIKey: "k"}, nil)
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = NewWebSearcher(config.SearchConfig{Source: "tavily"}, nil)
	require.ErrorContains(t, err, "api key")

	_, err = NewWebSearcher(config.SearchConfig{Source: "index"}, nil)
	require.ErrorContains(t, err, "corpus")

	_, err = NewWebSearcher(config.SearchConfig{Source: "bing"}, nil)
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewWebSearcherCacheWrap(t *testing.T) {
	s, err := NewWebSearcher(config.SearchConfig{Source: "serper", SerperAPIKey: "k", CacheTTL: time.Minute}, nil)
	require.NoError(t, err)
	_, ok := s.(*cachedSearcher)
	require.True(t, ok, "positive cache_ttl must wrap the backend")
}
