// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/llm"
	"github.com/jllopis/kairos-npc/pkg/resilience"
	"github.com/jllopis/kairos-npc/pkg/telemetry"
)

// DefaultMinDecisionInterval is the per agent spacing of remote calls.
const DefaultMinDecisionInterval = 2 * time.Second

const budgetWindow = time.Minute

// Fallback reasons, used as log and metric labels.
const (
	FallbackDisabled    = "disabled"
	FallbackMinInterval = "min_interval"
	FallbackBudget      = "budget"
	FallbackSchema      = "invalid_schema"
	FallbackDisallowed  = "disallowed_skill"
	FallbackProvider    = "provider_error"
)

// Budget limits remote provider usage.
type Budget struct {
	// MaxRequestsPerMin caps calls in a rolling 60s window. 0 is unlimited.
	MaxRequestsPerMin int
	// MinDecisionInterval spaces calls per agent. 0 means the default.
	MinDecisionInterval time.Duration
	// DisableAfterFirstFailure turns remote planning off for an agent
	// after its first provider error.
	DisableAfterFirstFailure bool
}

// RemotePlanner asks a DecisionProvider and falls back to a deterministic
// planner when throttled or when the provider fails in any way.
type RemotePlanner struct {
	provider llm.DecisionProvider
	fallback Planner
	budget   Budget
	now      func() time.Time
	logger   *slog.Logger
	metrics  *telemetry.RuntimeMetrics
	notify   FallbackNotifier

	mu       sync.Mutex
	requests []time.Time
	lastAt   map[string]time.Time
	disabled map[string]struct{}
}

// RemoteOption configures a RemotePlanner.
type RemoteOption func(*RemotePlanner)

// WithClock injects the time source.
func WithClock(now func() time.Time) RemoteOption {
	return func(p *RemotePlanner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RemoteOption {
	return func(p *RemotePlanner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records fallback counts.
func WithMetrics(m *telemetry.RuntimeMetrics) RemoteOption {
	return func(p *RemotePlanner) { p.metrics = m }
}

// FallbackNotifier is told every time a decision degrades to the
// fallback planner.
type FallbackNotifier func(ctx context.Context, sc *core.SkillContext, reason string)

// WithFallbackNotifier sets a callback for fallback activations.
func WithFallbackNotifier(fn FallbackNotifier) RemoteOption {
	return func(p *RemotePlanner) { p.notify = fn }
}

// NewRemote builds a remote planner. fallback defaults to RulePlanner.
func NewRemote(provider llm.DecisionProvider, fallback Planner, budget Budget, opts ...RemoteOption) *RemotePlanner {
	if fallback == nil {
		fallback = NewRule()
	}
	if budget.MinDecisionInterval <= 0 {
		budget.MinDecisionInterval = DefaultMinDecisionInterval
	}
	p := &RemotePlanner{
		provider: provider,
		fallback: fallback,
		budget:   budget,
		now:      time.Now,
		logger:   slog.Default(),
		lastAt:   make(map[string]time.Time),
		disabled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (*RemotePlanner) Name() string { return "remote" }

// Decide implements Planner. Provider failures are never returned.
func (p *RemotePlanner) Decide(ctx context.Context, sc *core.SkillContext, spec Spec) (Decision, error) {
	agentID := sc.Identity.ID

	if reason := p.admit(agentID); reason != "" {
		return p.degrade(ctx, sc, spec, reason, nil)
	}

	return resilience.WithFallback(ctx,
		func(ctx context.Context) (Decision, error) {
			return p.ask(ctx, sc, spec)
		},
		func(ctx context.Context, err error) (Decision, error) {
			reason := FallbackProvider
			if te := errors.As(err); te != nil {
				if r, ok := te.Context["fallback"].(string); ok {
					reason = r
				}
			}
			if reason == FallbackProvider && p.budget.DisableAfterFirstFailure {
				p.disable(agentID)
			}
			return p.degrade(ctx, sc, spec, reason, err)
		})
}

// admit runs the disabled, interval and budget checks in that order and
// records the decision time when a slot is granted.
func (p *RemotePlanner) admit(agentID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, off := p.disabled[agentID]; off {
		return FallbackDisabled
	}
	now := p.now()
	if last, ok := p.lastAt[agentID]; ok && now.Sub(last) < p.budget.MinDecisionInterval {
		return FallbackMinInterval
	}
	if !p.consume(now) {
		return FallbackBudget
	}
	p.lastAt[agentID] = now
	return ""
}

func (p *RemotePlanner) consume(now time.Time) bool {
	max := p.budget.MaxRequestsPerMin
	if max <= 0 {
		return true
	}
	i := 0
	for i < len(p.requests) && now.Sub(p.requests[i]) > budgetWindow {
		i++
	}
	p.requests = p.requests[i:]
	if len(p.requests) >= max {
		return false
	}
	p.requests = append(p.requests, now)
	return true
}

func (p *RemotePlanner) disable(agentID string) {
	p.mu.Lock()
	p.disabled[agentID] = struct{}{}
	p.mu.Unlock()
	p.logger.Warn("planner.remote.disabled", "agent_id", agentID)
}

// Disabled reports whether remote planning is off for agentID.
func (p *RemotePlanner) Disabled(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, off := p.disabled[agentID]
	return off
}

func (p *RemotePlanner) ask(ctx context.Context, sc *core.SkillContext, spec Spec) (Decision, error) {
	raw, err := p.provider.Complete(ctx, llm.PlanInput{
		Goal:         sc.Goal,
		Snapshot:     sc.Snapshot,
		Memory:       sc.Memory,
		Observations: sc.Observations,
		AllowSkills:  spec.AllowSkills,
	})
	if err != nil {
		return Decision{}, errors.New(errors.CodeLLMError, "decision provider failed", err)
	}

	d, err := ParseDecision(raw)
	if err != nil {
		return Decision{}, errors.As(err).WithContext("fallback", FallbackSchema)
	}
	if !spec.Allows(d.Skill) {
		return Decision{}, errors.Newf(errors.CodeLLMError, "skill %q not in allowlist", d.Skill).
			WithContext("fallback", FallbackDisallowed)
	}
	return d, nil
}

func (p *RemotePlanner) degrade(ctx context.Context, sc *core.SkillContext, spec Spec, reason string, cause error) (Decision, error) {
	attrs := []any{"agent_id", sc.Identity.ID, "reason", reason}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	p.logger.DebugContext(ctx, "planner.remote.fallback", attrs...)
	p.metrics.RecordPlannerFallback(ctx, reason)
	if p.notify != nil {
		p.notify(ctx, sc, reason)
	}
	return p.fallback.Decide(ctx, sc, spec)
}

// ParseDecision validates a raw provider response: skill must be a
// non-empty string, args may be anything and confidence, when present,
// must be a number in [0,1].
func ParseDecision(raw json.RawMessage) (Decision, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Decision{}, errors.New(errors.CodeInvalidInput, "decision is not a JSON object", err)
	}

	var skill string
	rawSkill, ok := fields["skill"]
	if !ok || json.Unmarshal(rawSkill, &skill) != nil || skill == "" {
		return Decision{}, errors.New(errors.CodeInvalidInput, "decision skill must be a non-empty string", nil)
	}

	d := Decision{Kind: KindSkill, Skill: skill}
	if rawArgs, ok := fields["args"]; ok {
		if err := json.Unmarshal(rawArgs, &d.Args); err != nil {
			return Decision{}, errors.New(errors.CodeInvalidInput, "decision args are not valid JSON", err)
		}
	}
	if rawConf, ok := fields["confidence"]; ok {
		var c float64
		if err := json.Unmarshal(rawConf, &c); err != nil || string(rawConf) == "null" {
			return Decision{}, errors.New(errors.CodeInvalidInput, "decision confidence must be a number", err)
		}
		if c < 0 || c > 1 {
			return Decision{}, errors.Newf(errors.CodeInvalidInput, "decision confidence %v out of range", c)
		}
		d.Confidence = &c
	}
	return d, nil
}
