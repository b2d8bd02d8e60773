package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllProvidersFailed is returned when every provider in the chain failed
// to produce valid structured output.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Chain tries providers in order until one returns JSON that parses and
// passes the request schema. It implements Generator.
type Chain struct {
	clients []Client
}

// NewChain builds a fallback chain. Order matters: put the preferred
// provider first and the noop provider last if degraded output is
// acceptable.
func NewChain(clients ...Client) *Chain {
	return &Chain{clients: clients}
}

// Generate runs the chain. The returned bytes are fence-stripped, parsed
// and schema-validated output from the first provider that succeeded.
func (c *Chain) Generate(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	if len(c.clients) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrAllProvidersFailed)
	}

	var lastErr error
	for _, client := range c.clients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := client.GenerateStructured(ctx, req)
		if err != nil {
			slog.Warn("Provider call failed, trying next",
				"provider", client.Name(),
				"error", err)
			lastErr = err
			continue
		}

		cleaned := StripFences(raw)
		if !json.Valid([]byte(cleaned)) {
			slog.Warn("Provider returned malformed JSON, trying next",
				"provider", client.Name())
			lastErr = fmt.Errorf("provider %s returned malformed JSON", client.Name())
			continue
		}

		if err := ValidateAgainstSchema([]byte(cleaned), req.Schema); err != nil {
			slog.Warn("Provider output failed schema validation, trying next",
				"provider", client.Name(),
				"error", err)
			lastErr = err
			continue
		}

		return json.RawMessage(cleaned), nil
	}

	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}
