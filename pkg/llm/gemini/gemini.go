// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini is a chat backend for the remote planner on top of the
// Google Gen AI SDK.
package gemini

import (
	"context"
	"time"

	"google.golang.org/genai"

	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/llm"
)

// DefaultModel is used when neither the request nor the options name one.
const DefaultModel = "gemini-3-flash-preview"

// Provider implements llm.Provider.
type Provider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
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

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// New creates the provider. An empty apiKey reads GOOGLE_API_KEY or
// GEMINI_API_KEY.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	var cfg *genai.ClientConfig
	if apiKey != "" {
		cfg = &genai.ClientConfig{APIKey: apiKey}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "create gemini client", err)
	}
	p := &Provider{client: client, model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

var _ llm.Provider = (*Provider)(nil)

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	contents, config := buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "gemini generate content failed", err).WithRecoverable(true)
	}
	return convertResponse(resp), nil
}

func buildRequest(req llm.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == llm.JSONObject.Type {
		config.ResponseMIMEType = "application/json"
	}
	return contents, config
}

func convertResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	out := &llm.ChatResponse{}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			out.Content += part.Text
		}
	}
	return out
}
