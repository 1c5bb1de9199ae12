// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jllopis/kairos-npc/pkg/errors"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{Content: m.Response}, nil
}

// ScriptedProvider is a DecisionProvider that returns a fixed sequence of
// raw decisions and records every input it saw.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []json.RawMessage
	Err       error
	inputs    []PlanInput
}

// NewScriptedProvider queues responses in order.
func NewScriptedProvider(responses ...string) *ScriptedProvider {
	s := &ScriptedProvider{}
	for _, r := range responses {
		s.responses = append(s.responses, json.RawMessage(r))
	}
	return s
}

// Complete pops the next response or returns the configured error.
func (s *ScriptedProvider) Complete(_ context.Context, in PlanInput) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inputs = append(s.inputs, in)
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.responses) == 0 {
		return nil, errors.New(errors.CodeLLMError, "scripted provider: no more responses", nil)
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next, nil
}

// Add appends a response to the queue.
func (s *ScriptedProvider) Add(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, json.RawMessage(response))
}

// Calls returns how many times Complete ran.
func (s *ScriptedProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

// Inputs returns a copy of the recorded inputs.
func (s *ScriptedProvider) Inputs() []PlanInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlanInput(nil), s.inputs...)
}
