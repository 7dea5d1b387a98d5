package plain

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/depthcharge/tools/web_fetch/models"
)

// Fetch retrieves a page over plain HTTP and extracts readable text. It is
// cheaper than headless browsing but blind to client-rendered content.
type Fetch struct {
	Timeout  time.Duration
	MaxChars int
}

func (f Fetch) Exec(ctx context.Context, rawURL string) (models.Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", "DepthchargeResearch/1.0 (+contact@example.com)")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Result{URL: rawURL, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return models.Result{URL: rawURL, Status: resp.StatusCode, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	html := string(body)

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return models.Result{URL: rawURL, Status: resp.StatusCode, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	text := article.TextContent
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}

	sum := sha1.Sum([]byte(html))

	published := ""
	if article.PublishedTime != nil {
		published = article.PublishedTime.Format(time.RFC3339)
	}

	return models.Result{
		URL:         rawURL,
		Title:       strings.TrimSpace(article.Title),
		Byline:      strings.TrimSpace(article.Byline),
		PublishedAt: published,
		Text:        strings.TrimSpace(text),
		TopImage:    article.Image,
		HTMLHash:    hex.EncodeToString(sum[:]),
		Status:      resp.StatusCode,
		RenderMS:    int(time.Since(t0) / time.Millisecond),
	}, nil
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
