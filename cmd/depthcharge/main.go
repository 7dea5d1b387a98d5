package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/internal/research"
	"github.com/mohammad-safakhou/depthcharge/internal/telemetry"
	"github.com/mohammad-safakhou/depthcharge/provider"
	"github.com/mohammad-safakhou/depthcharge/tools/embedding"
	"github.com/mohammad-safakhou/depthcharge/tools/web_fetch"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/index"
)

func main() {
	var root = &cobra.Command{Use: "depthcharge"}

	root.AddCommand(researchCMD(), serveCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEngine assembles the research engine and its shared index corpus from
// configuration.
func buildEngine(cfg *config.Config) (*research.Engine, *index.Corpus, error) {
	p, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("provider: %w", err)
	}

	corpus, err := index.NewCorpus(embedding.NewEmbedding(p))
	if err != nil {
		return nil, nil, fmt.Errorf("index corpus: %w", err)
	}

	searcher, err := web_search.NewWebSearcher(cfg.Search, corpus)
	if err != nil {
		return nil, nil, fmt.Errorf("web search: %w", err)
	}

	var fetcher web_fetch.WebFetcher
	if cfg.Search.Fetcher != "" {
		fetcher, err = web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Search.Fetcher), cfg.General.DefaultTimeout, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("web fetch: %w", err)
		}
	}

	tel := telemetry.NewTelemetry(cfg.Telemetry)
	logger := log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)

	engine := research.NewEngine(cfg, p, searcher, fetcher, tel, logger)
	engine.SearcherFactory = func(source string) (web_search.WebSearcher, error) {
		override := cfg.Search
		override.Source = source
		return web_search.NewWebSearcher(override, corpus)
	}
	return engine, corpus, nil
}
