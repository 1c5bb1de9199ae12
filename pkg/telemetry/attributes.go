// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry setup, span attributes and
// runtime metrics for the NPC runtime.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attribute keys.
const (
	AttrAgentID      = "npc.agent.id"
	AttrAgentNetID   = "npc.agent.net_id"
	AttrAgentGoal    = "npc.agent.goal"
	AttrControllerID = "npc.controller.id"

	AttrPlannerName       = "npc.planner.name"
	AttrDecisionKind      = "npc.decision.kind"
	AttrDecisionSkill     = "npc.decision.skill"
	AttrDecisionConfident = "npc.decision.confidence"
	AttrFallbackReason    = "npc.planner.fallback_reason"

	AttrSkillKey     = "npc.skill.key"
	AttrSkillOK      = "npc.skill.ok"
	AttrSkillOutcome = "npc.skill.outcome"
	AttrWaitKey      = "npc.wait.key"

	AttrRejectReason = "npc.reject.reason"

	AttrWireCallID   = "npc.wire.call_id"
	AttrWireExecutor = "npc.wire.executor"
	AttrWireRPC      = "npc.wire.rpc"
)

// AgentAttributes returns common attributes for agent spans.
func AgentAttributes(agentID string, netID int64, goal, controllerID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentID, agentID),
	}
	if netID > 0 {
		attrs = append(attrs, attribute.Int64(AttrAgentNetID, netID))
	}
	if goal != "" {
		attrs = append(attrs, attribute.String(AttrAgentGoal, goal))
	}
	if controllerID != "" {
		attrs = append(attrs, attribute.String(AttrControllerID, controllerID))
	}
	return attrs
}

// DecisionAttributes describes a planner decision.
func DecisionAttributes(planner, kind, skill string, confidence *float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrPlannerName, planner),
		attribute.String(AttrDecisionKind, kind),
	}
	if skill != "" {
		attrs = append(attrs, attribute.String(AttrDecisionSkill, skill))
	}
	if confidence != nil {
		attrs = append(attrs, attribute.Float64(AttrDecisionConfident, *confidence))
	}
	return attrs
}

// SkillAttributes returns attributes for a skill execution span.
func SkillAttributes(key string, ok bool, outcome string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSkillKey, key),
		attribute.Bool(AttrSkillOK, ok),
	}
	if outcome != "" {
		attrs = append(attrs, attribute.String(AttrSkillOutcome, outcome))
	}
	return attrs
}

// WireAttributes returns attributes for a delegated remote call.
func WireAttributes(rpc, callID, executor string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrWireRPC, rpc),
		attribute.String(AttrWireCallID, callID),
		attribute.String(AttrWireExecutor, executor),
	}
}
