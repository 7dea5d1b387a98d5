package research

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/depthcharge/internal/telemetry"
	"github.com/mohammad-safakhou/depthcharge/provider"
)

// llmClient wraps the completion provider with usage accounting for one run.
// It is safe for concurrent use by batch tasks.
type llmClient struct {
	provider  provider.Provider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	model     string

	mu          sync.Mutex
	totalCost   float64
	totalTokens int64
}

func newLLMClient(p provider.Provider, tel *telemetry.Telemetry, logger *log.Logger, model string) *llmClient {
	return &llmClient{provider: p, telemetry: tel, logger: logger, model: model}
}

func (c *llmClient) record(operation string, usage provider.Usage, duration time.Duration, success bool) {
	c.mu.Lock()
	c.totalCost += usage.Cost
	c.totalTokens += int64(usage.TotalTokens)
	c.mu.Unlock()

	if c.telemetry != nil {
		c.telemetry.RecordLLM(telemetry.LLMEvent{
			Operation:  operation,
			Model:      c.model,
			Duration:   duration,
			Success:    success,
			Cost:       usage.Cost,
			TokensUsed: int64(usage.TotalTokens),
		})
	}
}

func (c *llmClient) totals() (float64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost, c.totalTokens
}

func (c *llmClient) complete(ctx context.Context, operation, system, prompt string, temperature float64) (string, error) {
	messages := buildMessages(system, prompt)
	start := time.Now()
	out, usage, err := c.provider.Complete(ctx, messages, provider.Options{Temperature: temperature})
	c.record(operation, usage, time.Since(start), err == nil)
	return out, err
}

func (c *llmClient) completeStream(ctx context.Context, operation, system, prompt string, temperature float64, onDelta func(string)) (string, error) {
	messages := buildMessages(system, prompt)
	start := time.Now()
	out, usage, err := c.provider.CompleteStream(ctx, messages, provider.Options{Temperature: temperature}, onDelta)
	c.record(operation, usage, time.Since(start), err == nil)
	return out, err
}

// completeJSON runs a JSON-mode completion and unmarshals the first balanced
// object of the response into out. Callers substitute their own defaults on
// error; a malformed completion is never fatal to the pipeline.
func (c *llmClient) completeJSON(ctx context.Context, operation, system, prompt string, temperature float64, out interface{}) error {
	messages := buildMessages(system, prompt)
	start := time.Now()
	raw, usage, err := c.provider.Complete(ctx, messages, provider.Options{Temperature: temperature, JSONMode: true})
	c.record(operation, usage, time.Since(start), err == nil)
	if err != nil {
		return err
	}
	if err := decodeJSONResponse(raw, out); err != nil {
		c.logger.Printf("parse failure in %s: %v", operation, err)
		return err
	}
	return nil
}

func buildMessages(system, prompt string) []provider.Message {
	var messages []provider.Message
	if system != "" {
		messages = append(messages, provider.Message{Role: "system", Content: system})
	}
	messages = append(messages, provider.Message{Role: "user", Content: prompt})
	return messages
}
