// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package gemini

import (
	"testing"

	"google.golang.org/genai"

	"github.com/jllopis/kairos-npc/pkg/llm"
)

func TestBuildRequest(t *testing.T) {
	contents, config := buildRequest(llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "reply with JSON"},
			{Role: llm.RoleUser, Content: `{"goal":"park"}`},
			{Role: llm.RoleAssistant, Content: `{"skill":"parkVehicle"}`},
		},
		Temperature:    0.5,
		ResponseFormat: llm.JSONObject,
	})
	if len(contents) != 2 || contents[0].Role != "user" || contents[1].Role != "model" {
		t.Fatalf("unexpected contents %+v", contents)
	}
	if config.SystemInstruction == nil || config.SystemInstruction.Parts[0].Text != "reply with JSON" {
		t.Fatalf("expected system instruction, got %+v", config.SystemInstruction)
	}
	if config.Temperature == nil || *config.Temperature != 0.5 {
		t.Fatalf("unexpected temperature %v", config.Temperature)
	}
	if config.ResponseMIMEType != "application/json" {
		t.Fatalf("expected JSON mime type, got %q", config.ResponseMIMEType)
	}
}

func TestConvertResponse(t *testing.T) {
	resp := convertResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: `{"skill":`}, {Text: `"wanderArea"}`}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 4, TotalTokenCount: 14},
	})
	if resp.Content != `{"skill":"wanderArea"}` || resp.Usage.TotalTokens != 14 {
		t.Fatalf("unexpected response %+v", resp)
	}
}
