// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import "log/slog"

// SkillContext is rebuilt by the engine for every planner call and skill
// execution. Observations and Memory are copies; State is the live
// scratch map of the agent.
type SkillContext struct {
	Identity     Identity
	ControllerID string
	Goal         Goal
	Snapshot     map[string]any
	Memory       []any
	Observations map[string]any

	Events    AgentEmitter
	Transport Transport
	State     *State
	Logger    *slog.Logger

	// OnGoal is called by SetGoal. The engine wires it to the agent.
	OnGoal func(Goal)
}

// SetGoal replaces the agent goal from inside a skill.
func (c *SkillContext) SetGoal(goal Goal) {
	c.Goal = goal
	if c.OnGoal != nil {
		c.OnGoal(goal)
	}
}

// Emit forwards to Events, tolerating a nil emitter.
func (c *SkillContext) Emit(name string, payload any, opts EmitOptions) {
	if c.Events == nil {
		return
	}
	c.Events.Emit(name, payload, opts)
}

// Log returns the context logger or the default logger.
func (c *SkillContext) Log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
