package plain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
<title>Reactor Timeline</title>
<meta property="og:site_name" content="Example Energy News">
<meta property="article:published_time" content="2024-03-05T10:30:00Z">
</head>
<body>
<article>
<h1>Reactor Timeline</h1>
<p>The commissioning schedule for the new reactor moved forward by six months
after regulators approved the revised safety case in early March. Operators
expect first criticality before the end of the year.</p>
<p>Grid integration work continues in parallel, with transmission upgrades on
the northern corridor already half complete according to the operator's
latest quarterly filing.</p>
<p>Analysts note that the project remains within its revised budget envelope,
a rarity for builds of this scale in the region.</p>
</article>
</body>
</html>`

func TestExecExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := Fetch{Timeout: 5 * time.Second, MaxChars: 20000}
	res, err := f.Exec(context.Background(), srv.URL)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "Reactor Timeline", res.Title)
	require.Contains(t, res.Text, "commissioning schedule")
	require.NotEmpty(t, res.HTMLHash)

	// published_at carries the article's publication time, not the site name.
	require.Equal(t, "2024-03-05T10:30:00Z", res.PublishedAt)
	require.NotEqual(t, "Example Energy News", res.PublishedAt)
}

func TestExecNoPublishedTime(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>No Date</title>
<meta property="og:site_name" content="Example Energy News"></head>
<body><article><p>A page without publication metadata still extracts, the
date field just stays empty rather than borrowing the site name.</p>
<p>Second paragraph to give the extractor enough body text to work with in
this small fixture document.</p></article></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := Fetch{Timeout: 5 * time.Second, MaxChars: 20000}
	res, err := f.Exec(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, res.PublishedAt)
}

func TestExecEmptyURL(t *testing.T) {
	f := Fetch{Timeout: time.Second, MaxChars: 100}
	_, err := f.Exec(context.Background(), "")
	require.Error(t, err)
}
