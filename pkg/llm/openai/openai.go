// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai is a chat backend for the remote planner on top of the
// official OpenAI SDK. Use llm.OpenAICompatible for other vendors that
// speak the same protocol.
package openai

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/llm"
)

// DefaultModel is used when neither the request nor the options name one.
const DefaultModel = "gpt-5-mini"

// Provider implements llm.Provider.
type Provider struct {
	client    openai.Client
	model     string
	timeout   time.Duration
	clientOpt []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the client at Azure OpenAI or a proxy.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.clientOpt = append(p.clientOpt, option.WithBaseURL(url))
		}
	}
}

// WithAPIKey sets the API key. OPENAI_API_KEY is used otherwise.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		if key != "" {
			p.clientOpt = append(p.clientOpt, option.WithAPIKey(key))
		}
	}
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// New creates the provider.
func New(opts ...Option) *Provider {
	p := &Provider{model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	p.client = openai.NewClient(p.clientOpt...)
	return p
}

var _ llm.Provider = (*Provider)(nil)

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	completion, err := p.client.Chat.Completions.New(ctx, buildParams(req, p.model))
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "openai chat completion failed", err).WithRecoverable(true)
	}
	return convertResponse(completion), nil
}

func buildParams(req llm.ChatRequest, model string) openai.ChatCompletionNewParams {
	if req.Model != "" {
		model = req.Model
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleAssistant:
		return openai.AssistantMessage(msg.Content)
	default:
		return openai.UserMessage(msg.Content)
	}
}

func convertResponse(completion *openai.ChatCompletion) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) > 0 {
		resp.Content = completion.Choices[0].Message.Content
	}
	return resp
}
