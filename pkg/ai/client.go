// Package ai talks to LLM providers. Providers implement one narrow
// contract, structured JSON generation, and the Chain composes them into an
// ordered fallback: a request walks the chain until some provider returns
// JSON that parses and passes schema validation. The terminal noop provider
// keeps the rest of the system functioning when no real provider is
// reachable.
package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// StructuredRequest asks a provider for a JSON document.
type StructuredRequest struct {
	// System frames the model's role. Optional.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// Schema, when set, is the JSON schema the response must satisfy.
	// Validation happens in the chain, not in providers.
	Schema []byte

	MaxTokens   int
	Temperature float64
}

// Client is one LLM provider. Implementations return the raw completion
// text; fence stripping and validation are the chain's job.
type Client interface {
	Name() string
	GenerateStructured(ctx context.Context, req StructuredRequest) (string, error)
}

// Generator is what agents program against: a source of validated JSON.
// Chain implements it.
type Generator interface {
	Generate(ctx context.Context, req StructuredRequest) (json.RawMessage, error)
}

// ProviderOptions parameterize a real provider. Zero values fall back to
// provider defaults.
type ProviderOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

const defaultTimeout = 60 * time.Second

// newHTTPClient builds the pooled HTTP client providers use.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
