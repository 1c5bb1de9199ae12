// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"strings"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
)

// allSkillsKey is the reported table key of the all-skills notice.
const allSkillsKey = "*"

const (
	invalidArgsPrefix  = "invalidSkillArgs: "
	connectedModeNeeds = "requires connected mode executor"
)

// cooldowns is keyed by agent id, then skill key.
type cooldowns map[string]map[string]time.Time

func (c cooldowns) get(agentID, skill string) (time.Time, bool) {
	t, ok := c[agentID][skill]
	return t, ok
}

func (c cooldowns) set(agentID, skill string, t time.Time) {
	m, ok := c[agentID]
	if !ok {
		m = make(map[string]time.Time)
		c[agentID] = m
	}
	m[skill] = t
}

func (c cooldowns) del(agentID, skill string) {
	delete(c[agentID], skill)
}

// CoolingDown reports whether skill is in cooldown for agentID.
func (e *Engine) CoolingDown(agentID, skill string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldowns.get(agentID, skill)
	return ok && e.now().Before(until)
}

// CooldownUntil returns the end of the skill cooldown, if any.
func (e *Engine) CooldownUntil(agentID, skill string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldowns.get(agentID, skill)
	if !ok || !e.now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// Forget drops the cooldown bookkeeping of a detached agent, and the
// transport's per agent state when it keeps any.
func (e *Engine) Forget(agentID string) {
	e.mu.Lock()
	delete(e.cooldowns, agentID)
	delete(e.reported, agentID)
	e.mu.Unlock()
	if f, ok := e.transport.(interface{ Forget(agentID string) }); ok {
		f.Forget(agentID)
	}
}

// markCooldown starts a cooldown and re-arms its notice. The deadline is
// mirrored into the agent scratch state.
func (e *Engine) markCooldown(a *Agent, skill string, d time.Duration) {
	until := e.now().Add(d)
	e.mu.Lock()
	e.cooldowns.set(a.Identity.ID, skill, until)
	e.reported.del(a.Identity.ID, skill)
	e.mu.Unlock()
	a.State.Set(core.CooldownKey(skill), until)
}

// allCooling reports whether every allowed skill is cooling down.
func (e *Engine) allCooling(agentID string, allow []string) bool {
	if len(allow) == 0 {
		return false
	}
	for _, k := range allow {
		if !e.CoolingDown(agentID, k) {
			return false
		}
	}
	return true
}

// shouldReport rate limits notices per agent and key.
func (e *Engine) shouldReport(agentID, key string, window time.Duration) bool {
	if !e.reportCooldowns {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if until, ok := e.reported.get(agentID, key); ok && now.Before(until) {
		return false
	}
	e.reported.set(agentID, key, now.Add(window))
	return true
}

// penalty picks the cooldown of a terminal failure. A result supplied
// penalty wins over the category defaults.
func (e *Engine) penalty(res core.Result) time.Duration {
	if res.CooldownPenalty > 0 {
		return res.CooldownPenalty
	}
	return e.penaltyFor(res.Code, res.Error)
}

func (e *Engine) penaltyFor(code errors.ErrorCode, msg string) time.Duration {
	switch {
	case code == errors.CodeConnectivity || strings.Contains(msg, connectedModeNeeds):
		return e.penalties.Connectivity
	case code == errors.CodeInvalidInput || strings.Contains(msg, strings.TrimSuffix(invalidArgsPrefix, ": ")):
		return e.penalties.InvalidArgs
	default:
		return e.penalties.Default
	}
}
