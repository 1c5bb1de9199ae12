// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/llm"
)

func ctxFor(id string, obs map[string]any) *core.SkillContext {
	if obs == nil {
		obs = map[string]any{}
	}
	return &core.SkillContext{
		Identity:     core.Identity{ID: id},
		Goal:         core.Goal{ID: "default"},
		Observations: obs,
		State:        core.NewState(),
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRuleWanderAroundAnchor(t *testing.T) {
	d, err := NewRule().Decide(context.Background(),
		ctxFor("npc-1", map[string]any{"anchor": map[string]any{"x": 10.0, "y": 20.0, "z": 30.0}}),
		Spec{AllowSkills: []string{"wanderArea"}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	args := d.Args.(map[string]any)
	if d.Skill != "wanderArea" || args["x"] != 10.0 || args["radius"] != 25.0 || *d.Confidence != 0.55 {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestRuleWanderDefaultsToOrigin(t *testing.T) {
	d, _ := NewRule().Decide(context.Background(), ctxFor("npc-1", nil), Spec{AllowSkills: []string{"wanderArea"}})
	args := d.Args.(map[string]any)
	if args["x"] != 0.0 || args["y"] != 0.0 || args["z"] != 0.0 {
		t.Fatalf("expected origin anchor, got %v", args)
	}
}

func TestRuleCarDrivePark(t *testing.T) {
	obs := map[string]any{
		"assignedVeh": map[string]any{"netId": 50001.0},
		"dest":        map[string]any{"x": 1.0, "y": 2.0, "z": 3.0},
	}
	d, _ := NewRule().Decide(context.Background(), ctxFor("npc-1", obs),
		Spec{AllowSkills: []string{"wanderArea", "goToCarDrivePark"}})
	if d.Skill != "goToCarDrivePark" || *d.Confidence != 0.82 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.Args.(map[string]any)["vehicleNetId"] != 50001.0 {
		t.Fatalf("expected vehicle net id in args")
	}

	d, _ = NewRule().Decide(context.Background(), ctxFor("npc-1", obs), Spec{AllowSkills: []string{"moveTo"}})
	if !d.IsIdle() || d.Reason != "no deterministic decision available" {
		t.Fatalf("expected idle, got %+v", d)
	}
}

func TestRemoteValidDecision(t *testing.T) {
	provider := llm.NewScriptedProvider(`{"skill":"moveTo","args":{"x":1,"y":2,"z":3}}`)
	p := NewRemote(provider, NewRule(), Budget{})
	d, err := p.Decide(context.Background(), ctxFor("npc-1", nil), Spec{AllowSkills: []string{"moveTo"}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind != KindSkill || d.Skill != "moveTo" || d.Args.(map[string]any)["y"] != 2.0 {
		t.Fatalf("unexpected decision %+v", d)
	}
	in := provider.Inputs()[0]
	if in.Goal.ID != "default" || in.AllowSkills[0] != "moveTo" {
		t.Fatalf("unexpected provider input %+v", in)
	}
}

func TestRemoteSchemaFailureFallsBack(t *testing.T) {
	for _, raw := range []string{`{"bad":true}`, `{"skill":""}`, `{"skill":"moveTo","confidence":2}`, `[1,2]`} {
		p := NewRemote(llm.NewScriptedProvider(raw), NewRule(), Budget{})
		d, err := p.Decide(context.Background(), ctxFor("npc-1", nil), Spec{AllowSkills: []string{"moveTo"}})
		if err != nil || !d.IsIdle() {
			t.Fatalf("%s: expected idle fallback, got %+v %v", raw, d, err)
		}
	}
}

func TestRemoteDisallowedSkillFallsBack(t *testing.T) {
	p := NewRemote(llm.NewScriptedProvider(`{"skill":"driveTo","args":{}}`), NewRule(), Budget{})
	d, _ := p.Decide(context.Background(), ctxFor("npc-1", nil), Spec{AllowSkills: []string{"moveTo"}})
	if !d.IsIdle() {
		t.Fatalf("expected idle, got %+v", d)
	}
}

func TestRemoteBudgetPerMinute(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var calls atomic.Int32
	provider := llm.DecisionFunc(func(context.Context, llm.PlanInput) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{"skill":"moveTo"}`), nil
	})
	p := NewRemote(provider, NewRule(), Budget{MaxRequestsPerMin: 1}, WithClock(clock.now))
	spec := Spec{AllowSkills: []string{"moveTo"}}

	first, _ := p.Decide(context.Background(), ctxFor("npc-1", nil), spec)
	clock.advance(5 * time.Second)
	second, _ := p.Decide(context.Background(), ctxFor("npc-2", nil), spec)

	if calls.Load() != 1 {
		t.Fatalf("expected a single provider call, got %d", calls.Load())
	}
	if first.Skill != "moveTo" || !second.IsIdle() {
		t.Fatalf("expected second decision from fallback, got %+v", second)
	}

	clock.advance(61 * time.Second)
	if d, _ := p.Decide(context.Background(), ctxFor("npc-2", nil), spec); d.Skill != "moveTo" {
		t.Fatalf("expected budget to roll over, got %+v", d)
	}
}

func TestRemoteMinInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	provider := llm.NewScriptedProvider(`{"skill":"moveTo"}`, `{"skill":"moveTo"}`)
	p := NewRemote(provider, NewRule(), Budget{}, WithClock(clock.now))
	spec := Spec{AllowSkills: []string{"moveTo"}}

	_, _ = p.Decide(context.Background(), ctxFor("npc-1", nil), spec)
	clock.advance(time.Second)
	_, _ = p.Decide(context.Background(), ctxFor("npc-1", nil), spec)
	if provider.Calls() != 1 {
		t.Fatalf("expected min interval to block, calls=%d", provider.Calls())
	}
	clock.advance(time.Second)
	_, _ = p.Decide(context.Background(), ctxFor("npc-1", nil), spec)
	if provider.Calls() != 2 {
		t.Fatalf("expected call after interval, calls=%d", provider.Calls())
	}
}

func TestRemoteDisableAfterFirstFailure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	provider := llm.NewScriptedProvider()
	provider.Err = errors.New(errors.CodeLLMError, "boom", nil)
	p := NewRemote(provider, NewRule(), Budget{DisableAfterFirstFailure: true}, WithClock(clock.now))
	spec := Spec{AllowSkills: []string{"wanderArea"}}

	d, err := p.Decide(context.Background(), ctxFor("npc-1", nil), spec)
	if err != nil || d.Skill != "wanderArea" {
		t.Fatalf("expected rule fallback, got %+v %v", d, err)
	}
	if !p.Disabled("npc-1") || p.Disabled("npc-2") {
		t.Fatalf("expected only npc-1 disabled")
	}
	clock.advance(time.Hour)
	_, _ = p.Decide(context.Background(), ctxFor("npc-1", nil), spec)
	if provider.Calls() != 1 {
		t.Fatalf("disabled agent must not reach the provider, calls=%d", provider.Calls())
	}
}

func TestSchemaFailureDoesNotDisable(t *testing.T) {
	p := NewRemote(llm.NewScriptedProvider(`{"bad":true}`), NewRule(), Budget{DisableAfterFirstFailure: true})
	_, _ = p.Decide(context.Background(), ctxFor("npc-1", nil), Spec{AllowSkills: []string{"moveTo"}})
	if p.Disabled("npc-1") {
		t.Fatalf("schema failures must not disable remote planning")
	}
}

func TestParseDecisionConfidence(t *testing.T) {
	d, err := ParseDecision(json.RawMessage(`{"skill":"a","confidence":0.4,"extra":1}`))
	if err != nil || *d.Confidence != 0.4 {
		t.Fatalf("unexpected parse %+v %v", d, err)
	}
	if _, err := ParseDecision(json.RawMessage(`{"skill":"a","confidence":null}`)); err == nil {
		t.Fatalf("expected null confidence rejected")
	}
	if _, err := ParseDecision(json.RawMessage(`{"skill":5}`)); err == nil {
		t.Fatalf("expected numeric skill rejected")
	}
}

func TestRemoteNotifiesFallback(t *testing.T) {
	var reasons []string
	p := NewRemote(llm.NewScriptedProvider(`{"bad":true}`), NewRule(), Budget{},
		WithFallbackNotifier(func(_ context.Context, sc *core.SkillContext, reason string) {
			if sc.Identity.ID != "npc-1" {
				t.Errorf("unexpected agent %s", sc.Identity.ID)
			}
			reasons = append(reasons, reason)
		}))
	spec := Spec{AllowSkills: []string{"moveTo"}}
	_, _ = p.Decide(context.Background(), ctxFor("npc-1", nil), spec)
	_, _ = p.Decide(context.Background(), ctxFor("npc-1", nil), spec)

	if len(reasons) != 2 || reasons[0] != FallbackSchema || reasons[1] != FallbackMinInterval {
		t.Fatalf("unexpected fallback reasons %v", reasons)
	}
}
