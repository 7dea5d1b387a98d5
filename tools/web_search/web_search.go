package web_search

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/index"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/serper"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/tavily"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	TavilyProvider Provider = "tavily"
	IndexProvider  Provider = "index"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// NewWebSearcher builds the backend named by cfg.Source. corpus is only
// consulted for the index backend and may be nil otherwise. When cfg.CacheTTL
// is positive the returned searcher memoizes results per query.
func NewWebSearcher(cfg config.SearchConfig, corpus *index.Corpus) (WebSearcher, error) {
	var s WebSearcher
	switch Provider(cfg.Source) {
	case SerperProvider:
		if cfg.SerperAPIKey == "" {
			return nil, errors.New("serper api key not set (SERPER_API_KEY)")
		}
		s = serper.Search{ApiKey: cfg.SerperAPIKey, BaseURL: cfg.SerperBaseURL, Timeout: cfg.Timeout}
	case TavilyProvider:
		if cfg.TavilyAPIKey == "" {
			return nil, errors.New("tavily api key not set (TAVILY_API_KEY)")
		}
		s = tavily.Search{ApiKey: cfg.TavilyAPIKey, BaseURL: cfg.TavilyBaseURL, Timeout: cfg.Timeout}
	case IndexProvider:
		if corpus == nil {
			return nil, errors.New("index search requires a document corpus")
		}
		s = index.Search{Corpus: corpus}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Source)
	}

	if cfg.CacheTTL > 0 {
		s = WithCache(s, cfg.CacheTTL)
	}
	return s, nil
}
