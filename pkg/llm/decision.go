// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
)

// SystemPrompt is the fixed instruction sent with every decision request.
const SystemPrompt = `You are an NPC planner. Return JSON only with {"skill": string, "args": object, "confidence"?: number}. Never add narrative text.`

// DefaultMaxResponseChars caps the raw decision content.
const DefaultMaxResponseChars = 200000

// PlanInput is the context a remote planner sends to its provider.
type PlanInput struct {
	Goal         core.Goal      `json:"goal"`
	Snapshot     map[string]any `json:"snapshot"`
	Memory       []any          `json:"memory"`
	Observations map[string]any `json:"observations"`
	AllowSkills  []string       `json:"allowSkills"`
}

// DecisionProvider returns a raw JSON decision for a plan input. The
// remote planner validates the shape; providers only guarantee JSON.
type DecisionProvider interface {
	Complete(ctx context.Context, in PlanInput) (json.RawMessage, error)
}

// DecisionFunc adapts a function to DecisionProvider.
type DecisionFunc func(ctx context.Context, in PlanInput) (json.RawMessage, error)

// Complete implements DecisionProvider.
func (f DecisionFunc) Complete(ctx context.Context, in PlanInput) (json.RawMessage, error) {
	return f(ctx, in)
}

// ChatDecisionProvider turns a chat backend into a DecisionProvider.
type ChatDecisionProvider struct {
	chat             Provider
	model            string
	temperature      float64
	maxResponseChars int
}

// ChatDecisionOption configures a ChatDecisionProvider.
type ChatDecisionOption func(*ChatDecisionProvider)

// WithTemperature overrides the sampling temperature (default 0.2).
func WithTemperature(t float64) ChatDecisionOption {
	return func(p *ChatDecisionProvider) { p.temperature = t }
}

// WithMaxResponseChars caps the accepted response size.
func WithMaxResponseChars(n int) ChatDecisionOption {
	return func(p *ChatDecisionProvider) {
		if n > 0 {
			p.maxResponseChars = n
		}
	}
}

// NewChatDecisionProvider wraps chat for model.
func NewChatDecisionProvider(chat Provider, model string, opts ...ChatDecisionOption) *ChatDecisionProvider {
	p := &ChatDecisionProvider{
		chat:             chat,
		model:            model,
		temperature:      0.2,
		maxResponseChars: DefaultMaxResponseChars,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type userPayload struct {
	AllowSkills []string    `json:"allowSkills"`
	Context     planContext `json:"context"`
}

type planContext struct {
	Goal         core.Goal      `json:"goal"`
	Snapshot     map[string]any `json:"snapshot"`
	Memory       []any          `json:"memory"`
	Observations map[string]any `json:"observations"`
}

// Complete implements DecisionProvider.
func (p *ChatDecisionProvider) Complete(ctx context.Context, in PlanInput) (json.RawMessage, error) {
	user, err := json.Marshal(userPayload{
		AllowSkills: in.AllowSkills,
		Context: planContext{
			Goal:         in.Goal,
			Snapshot:     in.Snapshot,
			Memory:       in.Memory,
			Observations: in.Observations,
		},
	})
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "encode plan input", err)
	}

	resp, err := p.chat.Chat(ctx, ChatRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Messages: []Message{
			{Role: RoleSystem, Content: SystemPrompt},
			{Role: RoleUser, Content: string(user)},
		},
		ResponseFormat: JSONObject,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New(errors.CodeLLMError, "response missing message content", nil)
	}

	content := strings.TrimSpace(resp.Content)
	if len(content) > p.maxResponseChars {
		return nil, errors.Newf(errors.CodeLLMError, "response too large (%d chars)", len(content))
	}
	if !json.Valid([]byte(content)) {
		return nil, errors.New(errors.CodeLLMError, "response is not valid JSON", nil)
	}
	return json.RawMessage(content), nil
}
