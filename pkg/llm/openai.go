// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/resilience"
)

// DefaultEndpoint is the OpenRouter chat completions endpoint.
const DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"

// OpenAIOptions configures an OpenAI compatible chat client.
type OpenAIOptions struct {
	Endpoint string
	APIKey   string
	// Timeout bounds each attempt (default 3500ms).
	Timeout time.Duration
	// Retries is the number of extra attempts after the first.
	Retries int
	Client  *http.Client
	Breaker *resilience.CircuitBreaker
	Logger  *slog.Logger
}

// OpenAICompatible implements Provider against any /chat/completions API.
type OpenAICompatible struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	retry    resilience.RetryConfig
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

// NewOpenAICompatible creates a client with defaults applied.
func NewOpenAICompatible(opts OpenAIOptions) *OpenAICompatible {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3500 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &OpenAICompatible{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		retry:    resilience.DefaultRetryConfig().WithMaxAttempts(opts.Retries + 1),
		client:   opts.Client,
		breaker:  opts.Breaker,
		logger:   opts.Logger,
	}
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Chat sends req and returns the first choice content.
func (p *OpenAICompatible) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	call := func(ctx context.Context) (*ChatResponse, error) {
		return resilience.WithTimeoutResult(ctx, p.timeout, func(ctx context.Context) (*ChatResponse, error) {
			return p.do(ctx, body)
		})
	}

	var resp *ChatResponse
	err = p.guard(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = resilience.Retry(ctx, p.retry, call)
		return callErr
	})
	if err != nil {
		p.logger.DebugContext(ctx, "llm.chat.error", "endpoint", p.endpoint, "error", err)
		return nil, err
	}
	return resp, nil
}

func (p *OpenAICompatible) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.breaker == nil {
		return fn(ctx)
	}
	return p.breaker.Call(ctx, fn)
}

func (p *OpenAICompatible) do(ctx context.Context, body []byte) (*ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "chat api call failed", err).WithRecoverable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, errors.Newf(errors.CodeLLMError, "chat api returned %d", resp.StatusCode).
			WithContext("status", resp.StatusCode).
			WithRecoverable(retryable)
	}

	var decoded openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to decode chat response", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New(errors.CodeLLMError, "response missing message content", nil)
	}
	return &ChatResponse{Content: decoded.Choices[0].Message.Content, Usage: decoded.Usage}, nil
}
