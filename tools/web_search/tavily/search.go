package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
)

const DefaultBaseURL = "https://api.tavily.com"

type Search struct {
	ApiKey  string
	BaseURL string
	Timeout time.Duration
}

type request struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type response struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	body, _ := json.Marshal(request{APIKey: s.ApiKey, Query: q, MaxResults: k})
	req, err := http.NewRequestWithContext(ctx, "POST", base+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := http.DefaultClient
	if s.Timeout > 0 {
		client = &http.Client{Timeout: s.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}
	var raw response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []models.Result
	for i, r := range raw.Results {
		if i >= k {
			break
		}
		out = append(out, models.Result{
			Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score,
			Source: "tavily",
		})
	}
	return out, nil
}
