// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package events

import "github.com/jllopis/kairos-npc/pkg/core"

// Hook names an engine lifecycle point.
type Hook string

const (
	HookBeforePlan        Hook = "beforePlan"
	HookAfterPlan         Hook = "afterPlan"
	HookBeforeSkill       Hook = "beforeSkill"
	HookAfterSkill        Hook = "afterSkill"
	HookDecisionRejected  Hook = "decisionRejected"
	HookSkillError        Hook = "skillError"
	HookFallbackActivated Hook = "fallbackActivated"
)

// HookEvent is the payload of a hook notification. Info carries the hook
// specific value: the decision for afterPlan, the result for afterSkill,
// the reason map for decisionRejected and skillError.
type HookEvent struct {
	Hook         Hook
	Agent        core.Identity
	ControllerID string
	Skill        string
	Info         any
}

// HookHandler receives hook notifications.
type HookHandler func(HookEvent)

// HookBus is the in-process pub/sub for engine hooks.
type HookBus struct {
	opts options
	subs *registry[Hook, HookHandler]
}

// NewHookBus creates a hook bus.
func NewHookBus(opts ...Option) *HookBus {
	return &HookBus{opts: buildOptions(opts), subs: newRegistry[Hook, HookHandler]()}
}

// Subscribe registers h for hook and returns its unsubscribe function.
func (b *HookBus) Subscribe(hook Hook, h HookHandler) func() {
	return b.subs.add(hook, h)
}

// SubscribeController registers h only for agents of controllerID.
func (b *HookBus) SubscribeController(controllerID string, hook Hook, h HookHandler) func() {
	return b.Subscribe(hook, func(ev HookEvent) {
		if ev.ControllerID == controllerID {
			h(ev)
		}
	})
}

// Emit notifies every handler of ev.Hook.
func (b *HookBus) Emit(ev HookEvent) {
	for _, h := range b.subs.snapshot(ev.Hook) {
		b.dispatch(h, ev)
	}
}

func (b *HookBus) dispatch(h HookHandler, ev HookEvent) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				b.opts.logger.Warn("events.hook.panic", "hook", string(ev.Hook), "panic", r)
			}
		}()
		h(ev)
	}
	if b.opts.sync {
		run()
		return
	}
	go run()
}
