package research

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
)

// countingSearcher tracks how many Discover calls run at the same time.
type countingSearcher struct {
	inFlight int32
	max      int32
}

func (c *countingSearcher) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	for {
		cur := atomic.LoadInt32(&c.max)
		if n <= cur || atomic.CompareAndSwapInt32(&c.max, cur, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&c.inFlight, -1)
	return []models.Result{{Title: "T", URL: "https://example.com/" + q, Snippet: "s"}}, nil
}

func TestBatchRespectsConcurrencyLimit(t *testing.T) {
	searcher := &countingSearcher{}
	cfg := config.ResearchConfig{ConcurrencyLimit: 2, MaxResultsPerQuery: 3}
	llm := newLLMClient(scriptedLLM{}, nil, log.New(io.Discard, "", 0), "test")
	x := newExpander(llm, searcher, nil, cfg, "stub", nil, log.New(io.Discard, "", 0))

	queries := []string{"a", "b", "c", "d", "e"}
	results := x.runBatch(context.Background(), queries, PlanStep{StepID: 1}, false, 2)

	if got := atomic.LoadInt32(&searcher.max); got > 2 {
		t.Fatalf("observed %d concurrent searches, limit is 2", got)
	}
	if len(results) != len(queries) {
		t.Fatalf("expected %d results, got %d", len(queries), len(results))
	}
	for i, r := range results {
		if r.query != queries[i] {
			t.Fatalf("results out of input order: slot %d holds %q", i, r.query)
		}
		if r.err != nil {
			t.Fatalf("unexpected error for %q: %v", r.query, r.err)
		}
	}
}

func TestRunQuerySearchFailure(t *testing.T) {
	searcher := stubSearcher{fn: func(q string) ([]models.Result, error) {
		return nil, errors.New("quota exceeded")
	}}
	cfg := config.ResearchConfig{ConcurrencyLimit: 1, MaxResultsPerQuery: 3, EnableSummary: true}
	llm := newLLMClient(scriptedLLM{}, nil, log.New(io.Discard, "", 0), "test")
	x := newExpander(llm, searcher, nil, cfg, "stub", nil, log.New(io.Discard, "", 0))

	out := x.runQuery(context.Background(), "doomed", PlanStep{StepID: 1}, true, 2)
	if out.err == nil {
		t.Fatal("expected error to be recorded")
	}
	if len(out.learnings) != 0 || len(out.urls) != 0 || len(out.nextQueries) != 0 {
		t.Fatalf("failed query must contribute nothing, got %+v", out)
	}
	if !strings.Contains(out.summary, "quota exceeded") {
		t.Fatalf("summary should mention the failure, got %q", out.summary)
	}
}

func TestRunBatchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := config.ResearchConfig{ConcurrencyLimit: 1, MaxResultsPerQuery: 3}
	llm := newLLMClient(scriptedLLM{}, nil, log.New(io.Discard, "", 0), "test")
	x := newExpander(llm, &countingSearcher{}, nil, cfg, "stub", nil, log.New(io.Discard, "", 0))
	// Fill the semaphore so acquisition must go through the ctx branch.
	x.sem <- struct{}{}

	results := x.runBatch(ctx, []string{"a", "b"}, PlanStep{StepID: 1}, false, 1)
	for _, r := range results {
		if !errors.Is(r.err, context.Canceled) {
			t.Fatalf("expected context.Canceled for %q, got %v", r.query, r.err)
		}
	}
}

func TestFormatSearchResults(t *testing.T) {
	if got := formatSearchResults(nil); got != "No search results found." {
		t.Fatalf("empty hits: %q", got)
	}
	hits := []models.Result{
		{Title: "A", URL: "https://a.example", Snippet: "snippet a"},
		{Title: "B", URL: "https://b.example", Snippet: "snippet b", Content: "full content b"},
	}
	got := formatSearchResults(hits)
	if !strings.Contains(got, `"content":"snippet a"`) {
		t.Fatalf("content must fall back to snippet: %s", got)
	}
	if !strings.Contains(got, `"content":"full content b"`) {
		t.Fatalf("content must win over snippet: %s", got)
	}
}
