// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire correlates skill execution requests sent to remote
// executors with their results. It provides the net fallback channel,
// a primary/secondary composite caller and the bridge used by the
// delegating transport.
package wire

import (
	"context"

	"github.com/jllopis/kairos-npc/pkg/errors"
)

// ExecuteSkillRPC is the only RPC name the wire layer carries.
const ExecuteSkillRPC = "npc.execute-skill"

// ExecuteSkillMsg asks an executor to run one skill for an agent.
type ExecuteSkillMsg struct {
	CallID string `json:"callId"`
	NetID  int64  `json:"npcNetId"`
	Skill  string `json:"skill"`
	Args   any    `json:"args,omitempty"`
}

// SkillResultMsg is the executor reply to an ExecuteSkillMsg.
type SkillResultMsg struct {
	CallID string `json:"callId"`
	OK     bool   `json:"ok"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Caller invokes a named RPC.
type Caller interface {
	Call(ctx context.Context, name string, args ...any) (any, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, name string, args ...any) (any, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, name string, args ...any) (any, error) {
	return f(ctx, name, args...)
}

// ExecuteArgs unpacks the (target, msg) argument pair of ExecuteSkillRPC.
func ExecuteArgs(name string, args []any) (string, ExecuteSkillMsg, error) {
	if name != ExecuteSkillRPC {
		return "", ExecuteSkillMsg{}, errors.Newf(errors.CodeInvalidInput, "npc wire does not support RPC '%s'", name)
	}
	if len(args) != 2 {
		return "", ExecuteSkillMsg{}, errors.New(errors.CodeInvalidInput, "npc wire requires a target and an execute-skill payload", nil)
	}
	target, ok := args[0].(string)
	if !ok || target == "" {
		return "", ExecuteSkillMsg{}, errors.New(errors.CodeInvalidInput, "npc wire requires a target executor id", nil)
	}
	var msg ExecuteSkillMsg
	switch m := args[1].(type) {
	case ExecuteSkillMsg:
		msg = m
	case *ExecuteSkillMsg:
		if m == nil {
			return "", ExecuteSkillMsg{}, errors.New(errors.CodeInvalidInput, "npc wire requires a valid execute-skill payload", nil)
		}
		msg = *m
	default:
		return "", ExecuteSkillMsg{}, errors.New(errors.CodeInvalidInput, "npc wire requires a valid execute-skill payload", nil)
	}
	if msg.CallID == "" || msg.Skill == "" {
		return "", ExecuteSkillMsg{}, errors.New(errors.CodeInvalidInput, "npc wire requires a valid execute-skill payload", nil)
	}
	return target, msg, nil
}
