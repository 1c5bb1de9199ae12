// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic is a chat backend for the remote planner on top of the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/llm"
)

// DefaultModel is used when neither the request nor the options name one.
const DefaultModel = "claude-sonnet-4-20250514"

// Provider implements llm.Provider.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
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

// WithMaxTokens bounds the response length. Decisions are small.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) {
		if tokens > 0 {
			p.maxTokens = tokens
		}
	}
}

// WithBaseURL points the client at a proxy.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.clientOpt = append(p.clientOpt, option.WithBaseURL(url))
		}
	}
}

// WithAPIKey sets the API key. ANTHROPIC_API_KEY is used otherwise.
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
	p := &Provider{model: DefaultModel, maxTokens: 512}
	for _, opt := range opts {
		opt(p)
	}
	p.client = anthropic.NewClient(p.clientOpt...)
	return p
}

var _ llm.Provider = (*Provider)(nil)

// Chat implements llm.Provider. System messages become the system prompt.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	params := buildParams(req, p.model, p.maxTokens)
	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "anthropic message failed", err).WithRecoverable(true)
	}
	return convertResponse(message), nil
}

func buildParams(req llm.ChatRequest, model string, maxTokens int64) anthropic.MessageNewParams {
	if req.Model != "" {
		model = req.Model
	}
	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = msg.Content
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func convertResponse(message *anthropic.Message) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			resp.Content += block.Text
		}
	}
	return resp
}
