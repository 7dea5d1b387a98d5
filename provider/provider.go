package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/depthcharge/config"
	openai_provider "github.com/mohammad-safakhou/depthcharge/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Aliases so callers only deal with the provider package.
type (
	Message = openai_provider.Message
	Options = openai_provider.Options
	Usage   = openai_provider.Usage
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	// Complete runs a chat completion and returns the assistant message.
	Complete(ctx context.Context, messages []Message, opts Options) (string, Usage, error)
	// CompleteStream runs a chat completion and invokes onDelta for every
	// content fragment as it arrives. The returned value is the fully
	// assembled message.
	CompleteStream(ctx context.Context, messages []Message, opts Options, onDelta func(string)) (string, Usage, error)
	// CreateEmbedding generates embeddings for the given texts.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Type) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm api key not set (OPENAI_API_KEY)")
		}
		return openai_provider.NewClient(cfg), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Type)
	}
}
