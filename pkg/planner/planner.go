// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package planner chooses the next skill for an agent. RulePlanner is a
// pure function of observations; RemotePlanner asks a remote provider and
// degrades to a fallback planner on any failure.
package planner

import (
	"context"

	"github.com/jllopis/kairos-npc/pkg/core"
)

// Kind distinguishes skill decisions from idle ones.
type Kind string

const (
	KindSkill Kind = "skill"
	KindIdle  Kind = "idle"
)

// Decision is a planner proposal for one tick.
type Decision struct {
	Kind       Kind     `json:"type"`
	Skill      string   `json:"skill,omitempty"`
	Args       any      `json:"args,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// IsIdle reports whether d proposes nothing.
func (d Decision) IsIdle() bool { return d.Kind != KindSkill }

// Idle builds an idle decision.
func Idle(reason string) Decision {
	return Decision{Kind: KindIdle, Reason: reason}
}

// Propose builds a skill decision with a confidence score.
func Propose(skill string, args any, confidence float64) Decision {
	return Decision{Kind: KindSkill, Skill: skill, Args: args, Confidence: &confidence}
}

// Spec bounds what a planner may propose.
type Spec struct {
	AllowSkills []string
}

// Allows reports whether skill is in the allowlist.
func (s Spec) Allows(skill string) bool {
	for _, k := range s.AllowSkills {
		if k == skill {
			return true
		}
	}
	return false
}

// Planner decides the next action for an agent.
type Planner interface {
	Name() string
	Decide(ctx context.Context, sc *core.SkillContext, spec Spec) (Decision, error)
}
