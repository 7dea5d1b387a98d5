package openai_provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/depthcharge/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion call.
type Options struct {
	Model       string // overrides the configured default when non-empty
	JSONMode    bool   // ask the model for a single JSON object
	Temperature float64
	MaxTokens   int
}

// Usage carries token accounting for a single completion call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// client implements chat completions and embeddings against OpenAI's API
type client struct {
	apiKey          string
	baseURL         string
	completionModel string
	embeddingModel  string
	maxTokens       int
	costPer1KIn     float64
	costPer1KOut    float64
	httpClient      *http.Client
}

// NewClient creates a new OpenAI client from config
func NewClient(cfg config.LLMConfig) *client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &client{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(base, "/"),
		completionModel: cfg.Model,
		embeddingModel:  cfg.EmbeddingModel,
		maxTokens:       cfg.MaxTokens,
		costPer1KIn:     cfg.CostPer1KInput,
		costPer1KOut:    cfg.CostPer1KOutput,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// request represents a request to the chat completions endpoint
type request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// response represents a non-streaming response from the chat completions endpoint
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// chunk represents a single streamed SSE payload
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (c *client) model(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.completionModel
}

func (c *client) cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*c.costPer1KIn + float64(u.CompletionTokens)/1000*c.costPer1KOut
}

func (c *client) buildRequest(messages []Message, opts Options, stream bool) request {
	req := request{
		Model:       c.model(opts),
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return req
}

func (c *client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(buf.String()))
	}
	return resp, nil
}

// Complete runs a chat completion and returns the assistant message
func (c *client) Complete(ctx context.Context, messages []Message, opts Options) (string, Usage, error) {
	resp, err := c.post(ctx, "/chat/completions", c.buildRequest(messages, opts, false))
	if err != nil {
		return "", Usage{}, err
	}
	defer resp.Body.Close()

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", Usage{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(openaiResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in response")
	}

	var usage Usage
	if openaiResp.Usage != nil {
		usage = *openaiResp.Usage
		usage.Cost = c.cost(usage)
	}
	return openaiResp.Choices[0].Message.Content, usage, nil
}

// CompleteStream runs a chat completion over SSE, invoking onDelta for each
// content fragment. It returns the fully assembled message.
func (c *client) CompleteStream(ctx context.Context, messages []Message, opts Options, onDelta func(string)) (string, Usage, error) {
	resp, err := c.post(ctx, "/chat/completions", c.buildRequest(messages, opts, true))
	if err != nil {
		return "", Usage{}, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var ch chunk
		if err := json.Unmarshal([]byte(payload), &ch); err != nil {
			continue
		}
		if ch.Usage != nil {
			usage = *ch.Usage
		}
		if len(ch.Choices) > 0 && ch.Choices[0].Delta.Content != "" {
			full.WriteString(ch.Choices[0].Delta.Content)
			if onDelta != nil {
				onDelta(ch.Choices[0].Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", Usage{}, fmt.Errorf("failed to read stream: %w", err)
	}
	usage.Cost = c.cost(usage)
	return full.String(), usage, nil
}

// CreateEmbedding generates an embedding for the given texts using OpenAI's API
func (c *client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}

	resp, err := c.post(ctx, "/embeddings", requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var openaiResp struct {
		Data []struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	vecs := make([][]float32, len(openaiResp.Data))
	for i, d := range openaiResp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
