package ai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flitsinc/agent-worlds/internal/world"
)

type openaiProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

func newOpenAIProvider(cfg Config) *openaiProvider {
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return &openaiProvider{
		client:      &client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (p *openaiProvider) complete(ctx context.Context, turns []world.Turn) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		switch t.Role {
		case world.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case world.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               p.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(p.maxTokens),
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
