package index

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
)

func seedCorpus(t *testing.T) *Corpus {
	t.Helper()
	c, err := NewCorpus(nil)
	require.NoError(t, err)
	ctx := context.Background()
	docs := []DocInput{
		{URL: "https://go.example/channels", Title: "Channels", Text: "Go channels coordinate goroutines by passing values between them."},
		{URL: "https://go.example/mutex", Title: "Mutexes", Text: "A mutex guards shared state when channels are a poor fit."},
		{URL: "https://cooking.example/bread", Title: "Bread", Text: "Knead the dough and let it rise before baking."},
	}
	for _, d := range docs {
		_, err := c.Add(ctx, d)
		require.NoError(t, err)
	}
	return c
}

func TestCorpusSearchBM25(t *testing.T) {
	c := seedCorpus(t)
	out, err := c.Search(context.Background(), "goroutines channels", 5)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, "https://go.example/channels", out[0].URL)
	require.Equal(t, "index", out[0].Source)
}

func TestCorpusReingestReplaces(t *testing.T) {
	c := seedCorpus(t)
	ctx := context.Background()
	doc, err := c.Add(ctx, DocInput{URL: "https://go.example/channels", Title: "Channels v2", Text: "updated text about channels"})
	require.NoError(t, err)

	require.Equal(t, 3, c.Len(), "same URL must overwrite, not duplicate")
	var found Document
	for _, d := range c.Documents() {
		if d.DocID == doc.DocID {
			found = d
		}
	}
	require.Equal(t, "Channels v2", found.Title)
}

func TestCorpusSnippetTruncation(t *testing.T) {
	c, err := NewCorpus(nil)
	require.NoError(t, err)
	long := strings.Repeat("channels ", 100)
	_, err = c.Add(context.Background(), DocInput{URL: "https://go.example/long", Title: "Long", Text: long})
	require.NoError(t, err)

	out, err := c.Search(context.Background(), "channels", 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, strings.HasSuffix(out[0].Snippet, "…"))
	require.LessOrEqual(t, len(out[0].Snippet), 300+len("…"))
}

func TestFuseRRF(t *testing.T) {
	c, err := NewCorpus(nil)
	require.NoError(t, err)
	a := []models.Result{
		{URL: "https://x.example/1"},
		{URL: "https://x.example/2"},
	}
	b := []models.Result{
		{URL: "https://x.example/2"},
		{URL: "https://x.example/3"},
	}
	out := c.fuseRRF(a, b, 10)
	require.Len(t, out, 3)
	// /2 appears in both lists, so it must outrank the single-list hits.
	require.Equal(t, "https://x.example/2", out[0].URL)
}

func TestSearchClampsK(t *testing.T) {
	c := seedCorpus(t)
	out, err := c.Search(context.Background(), "channels", 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(out), 10)
}
