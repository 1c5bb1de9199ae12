// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"maps"
	"sync"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/governance"
	"github.com/jllopis/kairos-npc/pkg/planner"
)

// Frame is the in-flight skill of an agent.
type Frame struct {
	Skill string
	Args  any
	Wait  *core.Wait
	Next  *core.Next

	// until is the wait deadline, fixed when the wait starts.
	until time.Time
}

// Deadline returns the wait deadline, if any.
func (f *Frame) Deadline() (time.Time, bool) {
	return f.until, !f.until.IsZero()
}

// Agent is the runtime record of one live entity. Identity, ControllerID,
// Planner, Policy and State are fixed at attach time; the rest is guarded
// by the agent mutex because the facade reads it while ticks run.
type Agent struct {
	Identity     core.Identity
	ControllerID string
	Planner      planner.Planner
	Policy       *governance.Policy
	State        *core.State

	mu           sync.RWMutex
	goal         core.Goal
	observations map[string]any
	memory       []any
	active       *Frame
	turnCalls    int
}

// NewAgent creates an agent with empty observations and scratch state.
func NewAgent(id core.Identity, goal core.Goal, p planner.Planner, policy *governance.Policy) *Agent {
	if policy == nil {
		policy = governance.NewPolicy()
	}
	return &Agent{
		Identity:     id,
		Planner:      p,
		Policy:       policy,
		State:        core.NewState(),
		goal:         goal,
		observations: make(map[string]any),
	}
}

func (a *Agent) Goal() core.Goal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.goal
}

func (a *Agent) SetGoal(g core.Goal) {
	a.mu.Lock()
	a.goal = g
	a.mu.Unlock()
}

// Observe merges obs into the observation map and mirrors each key into
// the scratch state under obs.<key>.
func (a *Agent) Observe(obs map[string]any) {
	a.mu.Lock()
	maps.Copy(a.observations, obs)
	a.mu.Unlock()
	for k, v := range obs {
		a.State.Set(core.ObservationKey(k), v)
	}
}

// SetObservation sets a single observation.
func (a *Agent) SetObservation(key string, value any) {
	a.Observe(map[string]any{key: value})
}

// Observations returns a copy of the observation map.
func (a *Agent) Observations() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.observations)
}

// Remember appends to the agent memory.
func (a *Agent) Remember(entry any) {
	a.mu.Lock()
	a.memory = append(a.memory, entry)
	a.mu.Unlock()
}

// Memory returns a copy of the memory sequence.
func (a *Agent) Memory() []any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]any(nil), a.memory...)
}

// Active returns a copy of the active frame, or nil.
func (a *Agent) Active() *Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.active == nil {
		return nil
	}
	f := *a.active
	return &f
}

// TurnCalls returns the skills executed in the current tick.
func (a *Agent) TurnCalls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.turnCalls
}

func (a *Agent) frame() *Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

func (a *Agent) setFrame(f *Frame) {
	a.mu.Lock()
	a.active = f
	a.mu.Unlock()
}

func (a *Agent) setTurnCalls(n int) {
	a.mu.Lock()
	a.turnCalls = n
	a.mu.Unlock()
}

func (a *Agent) memoDeadline(f *Frame, t time.Time) {
	a.mu.Lock()
	f.until = t
	a.mu.Unlock()
}
