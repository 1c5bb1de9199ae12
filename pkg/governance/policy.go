// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance holds the per-agent constraint policy that gates
// which planner decisions may run.
package governance

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/jllopis/kairos-npc/pkg/config"
	"github.com/jllopis/kairos-npc/pkg/core"
)

// ValidationContext is the agent state a decision is checked against.
type ValidationContext struct {
	State     core.StateReader
	TurnCalls int
}

// Predicate is a custom precondition for one skill.
type Predicate func(vc ValidationContext) bool

// MutexConflict names the contended group and the skill holding it.
type MutexConflict struct {
	Group  string `json:"group"`
	HeldBy string `json:"heldBy"`
}

// Report is the outcome of Validate. Reasons is empty iff Allowed.
type Report struct {
	Allowed bool           `json:"allowed"`
	Reasons []string       `json:"reasons,omitempty"`
	Mutex   *MutexConflict `json:"mutex,omitempty"`
}

// Reason joins the reasons for log and event payloads.
func (r Report) Reason() string {
	return strings.Join(r.Reasons, "; ")
}

type mutexGroup struct {
	name   string
	skills map[string]struct{}
}

func (g mutexGroup) has(skill string) bool {
	_, ok := g.skills[skill]
	return ok
}

// Policy is a constraint policy built with a fluent API. Build it before
// the agent starts ticking; it is read only afterwards.
type Policy struct {
	allow     []string
	allowed   map[string]struct{}
	forbidden []string
	groups    []mutexGroup
	required  map[string][]Predicate
	maxCalls  int
}

// NewPolicy returns an empty policy. An empty allowlist rejects every
// decision.
func NewPolicy() *Policy {
	return &Policy{
		allowed:  make(map[string]struct{}),
		required: make(map[string][]Predicate),
	}
}

// Allow adds skills to the allowlist.
func (p *Policy) Allow(skills ...string) *Policy {
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := p.allowed[s]; ok {
			continue
		}
		p.allowed[s] = struct{}{}
		p.allow = append(p.allow, s)
	}
	return p
}

// Forbid adds skills or glob patterns to the denylist.
func (p *Policy) Forbid(skills ...string) *Policy {
	for _, s := range skills {
		if s = strings.TrimSpace(s); s != "" {
			p.forbidden = append(p.forbidden, s)
		}
	}
	return p
}

// MutexGroup declares a named mutual exclusion group. Declaring the same
// name again replaces its members.
func (p *Policy) MutexGroup(name string, skills ...string) *Policy {
	g := mutexGroup{name: name, skills: make(map[string]struct{}, len(skills))}
	for _, s := range skills {
		g.skills[s] = struct{}{}
	}
	for i := range p.groups {
		if p.groups[i].name == name {
			p.groups[i] = g
			return p
		}
	}
	p.groups = append(p.groups, g)
	return p
}

// LimitCallsPerTurn caps skill executions per tick. Values below 1 are
// raised to 1.
func (p *Policy) LimitCallsPerTurn(n int) *Policy {
	if n < 1 {
		n = 1
	}
	p.maxCalls = n
	return p
}

// Require adds a precondition for skill.
func (p *Policy) Require(skill string, pred Predicate) *Policy {
	if pred != nil {
		p.required[skill] = append(p.required[skill], pred)
	}
	return p
}

// Allowlist returns the allowlist in insertion order.
func (p *Policy) Allowlist() []string {
	return append([]string(nil), p.allow...)
}

// MaxCallsPerTurn returns the per tick ceiling, 0 meaning unlimited.
func (p *Policy) MaxCallsPerTurn() int { return p.maxCalls }

// Validate checks skill against the policy. Allowlist, denylist and the
// turn ceiling accumulate reasons. A mutex conflict returns at once with
// only its own reason and without running predicates.
func (p *Policy) Validate(skill string, vc ValidationContext) Report {
	var reasons []string

	if _, ok := p.allowed[skill]; !ok {
		reasons = append(reasons, fmt.Sprintf("skill '%s' not in allowlist", skill))
	}
	if p.isForbidden(skill) {
		reasons = append(reasons, fmt.Sprintf("skill '%s' is forbidden", skill))
	}
	if p.maxCalls > 0 && vc.TurnCalls >= p.maxCalls {
		reasons = append(reasons, fmt.Sprintf("limitCallsPerTurn(%d) reached", p.maxCalls))
	}

	for _, g := range p.groups {
		if !g.has(skill) {
			continue
		}
		heldBy, ok := core.Lookup[string](vc.State, core.MutexKey(g.name))
		if ok && heldBy != "" && heldBy != skill {
			return Report{
				Reasons: []string{fmt.Sprintf("mutex '%s' locked by '%s'", g.name, heldBy)},
				Mutex:   &MutexConflict{Group: g.name, HeldBy: heldBy},
			}
		}
	}

	for _, pred := range p.required[skill] {
		if !pred(vc) {
			reasons = append(reasons, fmt.Sprintf("require predicate failed for '%s'", skill))
		}
	}

	return Report{Allowed: len(reasons) == 0, Reasons: reasons}
}

// HoldMutex marks skill as the owner of every group containing it.
func (p *Policy) HoldMutex(skill string, state *core.State) {
	if state == nil {
		return
	}
	for _, g := range p.groups {
		if g.has(skill) {
			state.Set(core.MutexKey(g.name), skill)
		}
	}
}

// ReleaseMutex frees the groups containing skill that skill still owns.
func (p *Policy) ReleaseMutex(skill string, state *core.State) {
	if state == nil {
		return
	}
	for _, g := range p.groups {
		if !g.has(skill) {
			continue
		}
		if holder, ok := core.Lookup[string](state, core.MutexKey(g.name)); ok && holder == skill {
			state.Delete(core.MutexKey(g.name))
		}
	}
}

func (p *Policy) isForbidden(skill string) bool {
	for _, pattern := range p.forbidden {
		if matchPattern(pattern, skill) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	if err == nil && ok {
		return true
	}
	return pattern == value
}

// PolicyFromConfig builds a policy from its declarative form.
func PolicyFromConfig(cfg config.ConstraintConfig) *Policy {
	return ApplyConfig(NewPolicy(), cfg)
}

// ApplyConfig extends p with cfg. Mutex groups are added in name order so
// validation is deterministic.
func ApplyConfig(p *Policy, cfg config.ConstraintConfig) *Policy {
	p.Allow(cfg.Allow...).Forbid(cfg.Deny...)
	for _, name := range sortedKeys(cfg.Mutex) {
		p.MutexGroup(name, cfg.Mutex[name]...)
	}
	if cfg.MaxCallsPerTurn > 0 {
		p.LimitCallsPerTurn(cfg.MaxCallsPerTurn)
	}
	return p
}

// Clone returns an independent copy, so a controller template can be
// extended per agent.
func (p *Policy) Clone() *Policy {
	out := NewPolicy().Allow(p.allow...).Forbid(p.forbidden...)
	for _, g := range p.groups {
		members := make([]string, 0, len(g.skills))
		for s := range g.skills {
			members = append(members, s)
		}
		out.MutexGroup(g.name, members...)
	}
	for skill, preds := range p.required {
		out.required[skill] = append([]Predicate(nil), preds...)
	}
	out.maxCalls = p.maxCalls
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
