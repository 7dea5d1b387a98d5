package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/internal/telemetry"
	"github.com/mohammad-safakhou/depthcharge/tools/web_fetch"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search"
	searchmodels "github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
)

// expander runs the breadth/depth search expansion for plan steps. Batch
// members execute concurrently under a counting semaphore; each member's
// failure is isolated to that member.
type expander struct {
	llm       *llmClient
	searcher  web_search.WebSearcher
	fetcher   web_fetch.WebFetcher // nil disables page fetching
	cfg       config.ResearchConfig
	source    string
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	sem       chan struct{}
}

func newExpander(llm *llmClient, searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher, cfg config.ResearchConfig, source string, tel *telemetry.Telemetry, logger *log.Logger) *expander {
	limit := cfg.ConcurrencyLimit
	if limit < 1 {
		limit = 1
	}
	return &expander{
		llm:       llm,
		searcher:  searcher,
		fetcher:   fetcher,
		cfg:       cfg,
		source:    source,
		telemetry: tel,
		logger:    logger,
		sem:       make(chan struct{}, limit),
	}
}

// queryResult is the contribution of one query within a batch.
type queryResult struct {
	query       string
	summary     string
	urls        []string
	nextQueries []string
	learnings   []Learning
	err         error
}

// runBatch executes a batch of queries concurrently. Results come back in
// input order so contributions merge deterministically regardless of
// completion order.
func (x *expander) runBatch(ctx context.Context, queries []string, step PlanStep, wantFollowups bool, breadth int) []queryResult {
	results := make([]queryResult, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			select {
			case x.sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = queryResult{query: q, err: ctx.Err()}
				return
			}
			defer func() { <-x.sem }()
			results[i] = x.runQuery(ctx, q, step, wantFollowups, breadth)
		}(i, q)
	}
	wg.Wait()
	return results
}

// runQuery performs one search, the optional extraction pass, and the
// optional "what to search next" pass. Every error path returns a result with
// zero learnings rather than aborting siblings.
func (x *expander) runQuery(ctx context.Context, query string, step PlanStep, wantFollowups bool, breadth int) queryResult {
	out := queryResult{query: query}

	start := time.Now()
	hits, err := x.searcher.Discover(ctx, query, x.cfg.MaxResultsPerQuery)
	if x.telemetry != nil {
		x.telemetry.RecordSearch(telemetry.SearchEvent{
			Source:   x.source,
			Query:    query,
			Duration: time.Since(start),
			Success:  err == nil,
			Results:  len(hits),
		})
	}
	if err != nil {
		x.logger.Printf("search failed for %q: %v", query, err)
		out.err = err
		out.summary = fmt.Sprintf("Error searching for '%s': %v", query, err)
		return out
	}

	for _, h := range hits {
		if h.URL != "" {
			out.urls = append(out.urls, h.URL)
		}
	}

	if x.fetcher != nil && x.cfg.EnableFetchContent {
		hits = x.fetchContent(ctx, hits)
	}

	content := formatSearchResults(hits)

	if x.cfg.EnableSummary {
		out.summary = x.summarize(ctx, query, content)
	} else {
		// Raw search content stands in for the extraction pass, a
		// cost/quality trade-off exposed as configuration.
		out.summary = content
	}

	if wantFollowups && x.cfg.EnableSummary && breadth > 0 {
		var followup struct {
			Learnings   []Learning `json:"learnings"`
			NextQueries []string   `json:"nextQueries"`
		}
		prompt := researchFromContentPrompt(query, formatStepInfo(step), out.summary, breadth)
		if err := x.llm.completeJSON(ctx, "research_from_content", "", prompt, 0.7, &followup); err != nil {
			x.logger.Printf("follow-up generation failed for %q: %v", query, err)
		} else {
			out.learnings = followup.Learnings
			out.nextQueries = followup.NextQueries
		}
	}

	return out
}

type extractionResult struct {
	ExtractedInfos []struct {
		Info      string `json:"info"`
		URL       string `json:"url"`
		Relevance string `json:"relevance"`
	} `json:"extracted_infos"`
}

// summarize compacts raw search content into the extracted passages most
// relevant to the query. Failures degrade to an error string so the follow-up
// pass still has something to chew on.
func (x *expander) summarize(ctx context.Context, query, content string) string {
	var extraction extractionResult
	if err := x.llm.completeJSON(ctx, "extract_results", extractSystemPrompt, extractSearchResultsPrompt(query, content), 0, &extraction); err != nil {
		x.logger.Printf("extraction failed for %q: %v", query, err)
		return fmt.Sprintf("Error summarizing results for '%s': %v", query, err)
	}
	b, err := json.Marshal(extraction)
	if err != nil {
		return fmt.Sprintf("Error summarizing results for '%s': %v", query, err)
	}
	return string(b)
}

// fetchContent pulls full page text for hits that only carry a snippet.
func (x *expander) fetchContent(ctx context.Context, hits []searchmodels.Result) []searchmodels.Result {
	for i := range hits {
		if hits[i].Content != "" || hits[i].URL == "" {
			continue
		}
		page, err := x.fetcher.Exec(ctx, hits[i].URL)
		if err != nil || page.Text == "" {
			continue
		}
		hits[i].Content = page.Text
	}
	return hits
}

// formatSearchResults renders hits as a JSON list of {title,url,content}.
func formatSearchResults(hits []searchmodels.Result) string {
	if len(hits) == 0 {
		return "No search results found."
	}
	type entry struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	}
	entries := make([]entry, 0, len(hits))
	for _, h := range hits {
		content := h.Content
		if content == "" {
			content = h.Snippet
		}
		entries = append(entries, entry{Title: h.Title, URL: h.URL, Content: content})
	}
	b, err := json.Marshal(entries)
	if err != nil {
		var sb strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&sb, "%s (%s): %s\n", e.Title, e.URL, e.Content)
		}
		return sb.String()
	}
	return string(b)
}
