// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller holds agent group definitions: which planner an
// agent group uses, which skills it may run and under which constraints.
package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/governance"
	"github.com/jllopis/kairos-npc/pkg/planner"
	"github.com/jllopis/kairos-npc/pkg/resilience"
)

// HookBinding is a controller scoped hook handler.
type HookBinding struct {
	Hook    events.Hook
	Handler events.HookHandler
}

// EventBinding is a domain event handler owned by a controller.
type EventBinding struct {
	Name    string
	Handler events.Handler
}

// Definition is the validated configuration of one agent group.
type Definition struct {
	Group       string
	TickEvery   time.Duration
	AllowSkills []string

	primary     planner.Planner
	fallback    planner.Planner
	constraints func(*governance.Policy)
	hooks       []HookBinding
	events      []EventBinding
}

// Planner returns the group planner. A configured fallback answers
// whenever the primary returns an error.
func (d Definition) Planner() planner.Planner {
	if d.fallback == nil {
		return d.primary
	}
	return &fallbackPlanner{primary: d.primary, fallback: d.fallback}
}

// Policy builds a fresh policy for one agent of the group: the allow list
// first, then the group constraints.
func (d Definition) Policy() *governance.Policy {
	p := governance.NewPolicy().Allow(d.AllowSkills...)
	if d.constraints != nil {
		d.constraints(p)
	}
	return p
}

// Builder collects a definition. Every method returns the builder.
type Builder struct {
	def Definition
}

// UsePlanner sets the primary planner and an optional fallback.
func (b *Builder) UsePlanner(primary, fallback planner.Planner) *Builder {
	b.def.primary = primary
	b.def.fallback = fallback
	return b
}

// AllowSkills appends to the group allow list.
func (b *Builder) AllowSkills(skills ...string) *Builder {
	b.def.AllowSkills = append(b.def.AllowSkills, skills...)
	return b
}

// Constraints sets the policy configurator. It runs once per attached
// agent.
func (b *Builder) Constraints(fn func(*governance.Policy)) *Builder {
	b.def.constraints = fn
	return b
}

// TickEvery overrides the distance based tick interval for the group.
func (b *Builder) TickEvery(d time.Duration) *Builder {
	b.def.TickEvery = d
	return b
}

// On binds a hook handler that only sees agents of this group.
func (b *Builder) On(hook events.Hook, h events.HookHandler) *Builder {
	if h != nil {
		b.def.hooks = append(b.def.hooks, HookBinding{Hook: hook, Handler: h})
	}
	return b
}

// OnEvent binds a domain event handler.
func (b *Builder) OnEvent(name string, h events.Handler) *Builder {
	if h != nil {
		b.def.events = append(b.def.events, EventBinding{Name: name, Handler: h})
	}
	return b
}

// Define runs configure against a fresh builder and validates the result.
func Define(group string, configure func(*Builder)) (Definition, error) {
	b := &Builder{def: Definition{Group: group}}
	if configure != nil {
		configure(b)
	}
	if err := validate(b.def); err != nil {
		return Definition{}, err
	}
	return b.def, nil
}

func validate(d Definition) error {
	switch {
	case d.Group == "":
		return errors.New(errors.CodeConfiguration, "controller group must not be empty", nil)
	case d.primary == nil:
		return errors.Newf(errors.CodeConfiguration, "controller '%s' must configure a planner via UsePlanner", d.Group).
			WithContext("group", d.Group)
	case len(d.AllowSkills) == 0:
		return errors.Newf(errors.CodeConfiguration, "controller '%s' must define an explicit allowlist via AllowSkills", d.Group).
			WithContext("group", d.Group)
	case d.constraints == nil:
		return errors.Newf(errors.CodeConfiguration, "controller '%s' must define constraints via Constraints", d.Group).
			WithContext("group", d.Group)
	}
	return nil
}

// Runtime is the registry of controller definitions. Handlers bound by a
// definition are subscribed when it is registered.
type Runtime struct {
	hooks  *events.HookBus
	events *events.EventBus

	mu      sync.RWMutex
	byGroup map[string]Definition
	unsubs  []func()
}

// NewRuntime creates an empty controller runtime. Either bus may be nil,
// in which case bindings for it are ignored.
func NewRuntime(hooks *events.HookBus, bus *events.EventBus) *Runtime {
	return &Runtime{hooks: hooks, events: bus, byGroup: make(map[string]Definition)}
}

// Register validates and stores def. It fails on a duplicate group.
func (r *Runtime) Register(def Definition) error {
	if err := validate(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byGroup[def.Group]; exists {
		return errors.Newf(errors.CodeDuplicate, "controller '%s' already registered", def.Group).
			WithContext("group", def.Group)
	}
	r.byGroup[def.Group] = def

	if r.hooks != nil {
		for _, b := range def.hooks {
			r.unsubs = append(r.unsubs, r.hooks.SubscribeController(def.Group, b.Hook, b.Handler))
		}
	}
	if r.events != nil {
		for _, b := range def.events {
			r.unsubs = append(r.unsubs, r.events.Subscribe(b.Name, b.Handler))
		}
	}
	return nil
}

// MustRegister panics on a registration error. It is meant for
// composition roots.
func (r *Runtime) MustRegister(def Definition, err error) {
	if err == nil {
		err = r.Register(def)
	}
	if err != nil {
		panic(err)
	}
}

// ByGroup returns the definition of group.
func (r *Runtime) ByGroup(group string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byGroup[group]
	return d, ok
}

// Groups returns the registered groups, sorted.
func (r *Runtime) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byGroup))
	for g := range r.byGroup {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Close unsubscribes every bound handler.
func (r *Runtime) Close() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

type fallbackPlanner struct {
	primary  planner.Planner
	fallback planner.Planner
}

func (p *fallbackPlanner) Name() string { return p.primary.Name() }

func (p *fallbackPlanner) Decide(ctx context.Context, sc *core.SkillContext, spec planner.Spec) (planner.Decision, error) {
	return resilience.WithFallback(ctx,
		func(ctx context.Context) (planner.Decision, error) {
			return p.primary.Decide(ctx, sc, spec)
		},
		func(ctx context.Context, err error) (planner.Decision, error) {
			sc.Log().WarnContext(ctx, "controller.planner.fallback", "planner", p.primary.Name(), "error", err)
			return p.fallback.Decide(ctx, sc, spec)
		})
}
