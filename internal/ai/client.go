// Package ai adapts LLM provider SDKs behind a single completion interface.
// The orchestration layer treats the provider as an opaque text-in/text-out
// service; provider selection happens once at construction.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flitsinc/agent-worlds/internal/metrics"
	"github.com/flitsinc/agent-worlds/internal/world"
)

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	MaxTokens   int64
	Temperature float64
}

type provider interface {
	complete(ctx context.Context, turns []world.Turn) (string, error)
}

type Client struct {
	provider provider
	cfg      Config
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	var p provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic":
		p = newAnthropicProvider(cfg)
	case "openai":
		p = newOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return &Client{provider: p, cfg: cfg}, nil
}

// Complete runs one completion over the given context turns. Turns with the
// system role become the provider's system prompt; the rest map to the
// provider's user/assistant messages in order.
func (c *Client) Complete(ctx context.Context, w world.World, a world.Agent, turns []world.Turn) (string, error) {
	start := time.Now()
	out, err := c.provider.complete(ctx, turns)
	metrics.LLMCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCalls.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.LLMCalls.WithLabelValues("ok").Inc()
	return out, nil
}
