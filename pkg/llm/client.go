// Package llm defines the minimal chat-completion client used by the model
// normalizer and the vision fallback, so any OpenAI-compatible backend can
// be adapted and tests can stub the network entirely.
package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// Client mirrors the single method the pipeline needs.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider adapts *openai.Client to Client.
type OpenAIProvider struct {
	Inner *openai.Client
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return p.Inner.CreateChatCompletion(ctx, request)
}

// New builds a provider for an OpenAI-compatible endpoint. baseURL may be
// empty for the default endpoint.
func New(baseURL, apiKey string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{Inner: openai.NewClientWithConfig(cfg)}
}
