// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package npc is the host facing API of the runtime. It spawns entities,
// attaches them to the engine as agents and feeds them observations.
//
// A typical host:
//
//	api := npc.New(entities, eng, npc.WithRuntime(svc), npc.WithControllers(ctrl))
//	id, _ := api.Spawn(ctx, entity.SpawnInput{Model: "a_m_y_business_01"})
//	_, _ = api.Attach(id, npc.AttachOptions{Group: "drivers"})
//	_ = api.SetObservation(id, map[string]any{"dest": dest})
package npc

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/kairos-npc/pkg/controller"
	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/engine"
	"github.com/jllopis/kairos-npc/pkg/entity"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/governance"
	"github.com/jllopis/kairos-npc/pkg/planner"
	"github.com/jllopis/kairos-npc/pkg/runtime"
)

// DefaultGoal is the goal of agents attached without a group.
const DefaultGoal = "default"

// AttachOptions selects how an entity is driven. Zero fields fall back to
// the group definition, then to the defaults.
type AttachOptions struct {
	Group   string
	Planner planner.Planner
	Goal    *core.Goal
	// TickEvery overrides the distance based pacing.
	TickEvery time.Duration
	// Constraints replaces the group constraints. The group allow list is
	// still applied.
	Constraints func(*governance.Policy)
}

// API is safe for concurrent use.
type API struct {
	entities    entity.Lifecycle
	engine      *engine.Engine
	service     *runtime.Service
	controllers *controller.Runtime
	hooks       *events.HookBus
	fallback    func() planner.Planner
	logger      *slog.Logger

	mu     sync.RWMutex
	agents map[string]*engine.Agent
	// busy holds agents ticked directly by Run when no runtime is set.
	busy map[string]bool
}

// Option configures an API.
type Option func(*API)

// WithRuntime registers attached agents with svc for scheduled ticks.
func WithRuntime(svc *runtime.Service) Option {
	return func(a *API) { a.service = svc }
}

// WithControllers resolves AttachOptions.Group against rt.
func WithControllers(rt *controller.Runtime) Option {
	return func(a *API) { a.controllers = rt }
}

// WithHooks sets the bus that receives fallbackActivated notifications.
func WithHooks(h *events.HookBus) Option {
	return func(a *API) { a.hooks = h }
}

// WithDefaultPlanner sets the planner factory used when neither the
// options nor the group name one.
func WithDefaultPlanner(fn func() planner.Planner) Option {
	return func(a *API) {
		if fn != nil {
			a.fallback = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates the facade over entities and eng.
func New(entities entity.Lifecycle, eng *engine.Engine, opts ...Option) *API {
	a := &API{
		entities: entities,
		engine:   eng,
		fallback: func() planner.Planner { return planner.NewRule() },
		logger:   slog.Default(),
		agents:   make(map[string]*engine.Agent),
		busy:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Spawn creates a world entity.
func (a *API) Spawn(ctx context.Context, in entity.SpawnInput) (core.Identity, error) {
	id, err := a.entities.Spawn(ctx, in)
	if err != nil {
		return core.Identity{}, err
	}
	a.logger.InfoContext(ctx, "npc.spawn", "agent_id", id.ID, "net_id", id.NetID, "model", in.Model)
	return id, nil
}

// Destroy detaches the agent and removes its entity.
func (a *API) Destroy(id core.Identity) {
	a.Detach(id)
	a.entities.Despawn(id.ID)
	a.logger.Info("npc.destroy", "agent_id", id.ID)
}

// Attach creates an agent for a spawned entity and schedules it.
func (a *API) Attach(id core.Identity, opts AttachOptions) (*engine.Agent, error) {
	if !a.entities.Exists(id.ID) {
		return nil, errors.Newf(errors.CodeNotFound, "npc '%s' does not exist, spawn it before attach", id.ID).
			WithContext("agent_id", id.ID)
	}

	var (
		def    controller.Definition
		hasDef bool
	)
	if opts.Group != "" && a.controllers != nil {
		def, hasDef = a.controllers.ByGroup(opts.Group)
	}
	if opts.Group != "" && !hasDef {
		return nil, errors.Newf(errors.CodeNotFound, "controller '%s' is not registered", opts.Group).
			WithContext("group", opts.Group)
	}

	p := opts.Planner
	if p == nil && hasDef {
		p = def.Planner()
	}
	if p == nil {
		p = a.fallback()
	}

	goal := core.Goal{ID: DefaultGoal}
	if opts.Group != "" {
		goal.ID = opts.Group
	}
	if opts.Goal != nil {
		goal = *opts.Goal
	}

	policy := governance.NewPolicy()
	switch {
	case opts.Constraints != nil:
		opts.Constraints(policy)
		if hasDef {
			policy.Allow(def.AllowSkills...)
		}
	case hasDef:
		policy = def.Policy()
	}

	agent := engine.NewAgent(id, goal, p, policy)
	agent.ControllerID = opts.Group

	a.mu.Lock()
	if _, exists := a.agents[id.ID]; exists {
		a.mu.Unlock()
		return nil, errors.Newf(errors.CodeDuplicate, "npc '%s' is already attached", id.ID).
			WithContext("agent_id", id.ID)
	}
	a.agents[id.ID] = agent
	a.mu.Unlock()

	tick := opts.TickEvery
	if tick <= 0 && hasDef {
		tick = def.TickEvery
	}
	if a.service != nil {
		a.service.Register(agent, tick)
	}
	a.logger.Info("npc.attach", "agent_id", id.ID, "group", opts.Group, "planner", p.Name(), "tick_every", tick)
	return agent, nil
}

// Detach stops driving the entity. It reports whether an agent was
// attached.
func (a *API) Detach(id core.Identity) bool {
	a.mu.Lock()
	_, ok := a.agents[id.ID]
	delete(a.agents, id.ID)
	a.mu.Unlock()
	if a.service != nil {
		a.service.Unregister(id.ID)
	}
	a.engine.Forget(id.ID)
	return ok
}

// SetObservation merges patch into the agent observations.
func (a *API) SetObservation(id core.Identity, patch map[string]any) error {
	agent, err := a.require(id.ID)
	if err != nil {
		return err
	}
	agent.Observe(patch)
	return nil
}

// Agent returns an attached agent.
func (a *API) Agent(id string) (*engine.Agent, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	agent, ok := a.agents[id]
	return agent, ok
}

// Agents returns the attached agents sorted by id.
func (a *API) Agents() []*engine.Agent {
	a.mu.RLock()
	out := make([]*engine.Agent, 0, len(a.agents))
	for _, agent := range a.agents {
		out = append(out, agent)
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.ID < out[j].Identity.ID })
	return out
}

// Run executes one tick now. It fails with CodeRateLimit while a tick of
// the same agent is in flight, through the runtime tick lock when one is
// configured and through the facade's own busy set otherwise.
func (a *API) Run(ctx context.Context, id core.Identity) error {
	agent, err := a.require(id.ID)
	if err != nil {
		return err
	}
	if a.service != nil {
		if !a.service.TickNow(ctx, id.ID) {
			return alreadyTicking(id.ID)
		}
		return nil
	}

	a.mu.Lock()
	if a.busy[id.ID] {
		a.mu.Unlock()
		return alreadyTicking(id.ID)
	}
	a.busy[id.ID] = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.busy, id.ID)
		a.mu.Unlock()
	}()

	a.engine.Tick(ctx, agent)
	return nil
}

func alreadyTicking(id string) error {
	return errors.Newf(errors.CodeRateLimit, "npc '%s' is already ticking", id).
		WithContext("agent_id", id).
		WithRecoverable(true)
}

// Memory returns a copy of the agent memory.
func (a *API) Memory(id core.Identity) ([]any, error) {
	agent, err := a.require(id.ID)
	if err != nil {
		return nil, err
	}
	return agent.Memory(), nil
}

// Remember appends entry to the agent memory.
func (a *API) Remember(id core.Identity, entry any) error {
	agent, err := a.require(id.ID)
	if err != nil {
		return err
	}
	agent.Remember(entry)
	return nil
}

// NotifyFallback emits fallbackActivated for the agent of sc. It is meant
// for planner.WithFallbackNotifier.
func (a *API) NotifyFallback(_ context.Context, sc *core.SkillContext, reason string) {
	if a.hooks == nil {
		return
	}
	a.hooks.Emit(events.HookEvent{
		Hook:         events.HookFallbackActivated,
		Agent:        sc.Identity,
		ControllerID: sc.ControllerID,
		Info:         map[string]any{"reason": reason},
	})
}

func (a *API) require(id string) (*engine.Agent, error) {
	agent, ok := a.Agent(id)
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "npc '%s' is not attached", id).WithContext("agent_id", id)
	}
	return agent, nil
}
