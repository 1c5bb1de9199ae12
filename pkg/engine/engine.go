// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine runs the per tick state machine of an agent: resume the
// active frame or plan, validate, check cooldowns, execute and interpret
// the skill result.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/governance"
	"github.com/jllopis/kairos-npc/pkg/planner"
	"github.com/jllopis/kairos-npc/pkg/skills"
	"github.com/jllopis/kairos-npc/pkg/telemetry"
)

// Hook payloads carried in events.HookEvent.Info.
type (
	// Rejection is the payload of decisionRejected.
	Rejection struct {
		Decision planner.Decision
		Report   governance.Report
	}
	// SkillCall is the payload of beforeSkill.
	SkillCall struct {
		Args any
	}
	// SkillFailure is the payload of skillError.
	SkillFailure struct {
		Error string
	}
)

// Skill outcomes used in logs and metrics.
const (
	OutcomeDone     = "done"
	OutcomeWait     = "wait"
	OutcomeRetry    = "retry"
	OutcomeRun      = "run"
	OutcomeContinue = "continue"
	OutcomeFailed   = "failed"
)

// Engine ticks agents. It owns the cooldown tables; everything else
// lives on the agent.
type Engine struct {
	skills    *skills.Registry
	hooks     *events.HookBus
	events    *events.EventBus
	transport core.Transport

	now              func() time.Time
	logger           *slog.Logger
	metrics          *telemetry.RuntimeMetrics
	tracer           trace.Tracer
	reportCooldowns  bool
	reportWindow     time.Duration
	allCoolingWindow time.Duration
	penalties        Penalties
	snapshot         SnapshotOptions

	mu        sync.Mutex
	cooldowns cooldowns
	reported  cooldowns
}

// New creates an engine. hooks and bus may be nil.
func New(registry *skills.Registry, hooks *events.HookBus, bus *events.EventBus, transport core.Transport, opts ...Option) *Engine {
	if registry == nil {
		registry = skills.NewRegistry()
	}
	e := &Engine{
		skills:           registry,
		hooks:            hooks,
		events:           bus,
		transport:        transport,
		now:              time.Now,
		logger:           slog.Default(),
		tracer:           otel.Tracer("kairos-npc/engine"),
		reportCooldowns:  true,
		reportWindow:     DefaultReportWindow,
		allCoolingWindow: DefaultAllCoolingWindow,
		penalties:        DefaultPenalties,
		snapshot:         DefaultSnapshotOptions,
		cooldowns:        make(cooldowns),
		reported:         make(cooldowns),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Skills returns the registry the engine resolves skills from.
func (e *Engine) Skills() *skills.Registry { return e.skills }

// Tick runs one step of a's state machine. It never panics and never
// blocks on anything but the planner and the skill it runs.
func (e *Engine) Tick(ctx context.Context, a *Agent) {
	start := e.now()
	ctx = telemetry.WithController(telemetry.WithAgent(ctx, a.Identity.ID), a.ControllerID)
	ctx, span := e.tracer.Start(ctx, "engine.tick",
		trace.WithAttributes(telemetry.AgentAttributes(a.Identity.ID, a.Identity.NetID, a.Goal().ID, a.ControllerID)...))
	defer func() {
		span.End()
		e.metrics.RecordTick(ctx, a.ControllerID, e.now().Sub(start))
	}()

	a.setTurnCalls(0)

	if f := a.frame(); f != nil {
		if !e.resume(ctx, a, f) {
			return
		}
	}
	e.plan(ctx, a, span)
}

// resume handles the active frame and reports whether the tick should
// go on to planning.
func (e *Engine) resume(ctx context.Context, a *Agent, f *Frame) bool {
	if f.Wait != nil {
		switch e.checkWait(ctx, a, f) {
		case waitPending, waitExpired:
			return false
		}
		switch next := f.Next; {
		case next != nil && next.Kind == core.NextRun:
			if next.Skill != f.Skill {
				a.Policy.ReleaseMutex(f.Skill, a.State)
			}
			e.runSkill(ctx, a, next.Skill, next.Args)
			return false
		case next != nil && next.Kind == core.NextReplan:
			a.setFrame(nil)
			a.Policy.ReleaseMutex(f.Skill, a.State)
			return true
		}
	}
	e.runSkill(ctx, a, f.Skill, f.Args)
	return false
}

type waitState int

const (
	waitPending waitState = iota
	waitCleared
	waitExpired
)

// checkWait evaluates the frame wait against its deadline.
func (e *Engine) checkWait(ctx context.Context, a *Agent, f *Frame) waitState {
	if f.until.IsZero() {
		a.memoDeadline(f, e.deadline(*f.Wait))
	}
	now := e.now()
	if f.Wait.Kind != core.WaitUntilKey {
		if now.Before(f.until) {
			return waitPending
		}
		return waitCleared
	}
	if e.transport != nil && e.transport.IsWaitSatisfied(a.Identity, f.Wait.Key, a.State) {
		return waitCleared
	}
	if !now.Before(f.until) {
		e.waitTimeout(ctx, a, f)
		return waitExpired
	}
	return waitPending
}

// deadline returns when w expires if started now.
func (e *Engine) deadline(w core.Wait) time.Time {
	if w.Kind == core.WaitUntilKey {
		if w.Timeout <= 0 {
			return e.now().Add(DefaultUntilTimeout)
		}
		return e.now().Add(w.Timeout)
	}
	return e.now().Add(w.Duration)
}

// waitTimeout ends a predicate wait that missed its deadline. No
// cooldown is applied.
func (e *Engine) waitTimeout(ctx context.Context, a *Agent, f *Frame) {
	msg := fmt.Sprintf("wait '%s' timeout", f.Wait.Key)
	e.logger.WarnContext(ctx, "engine.wait.timeout", "skill", f.Skill, "key", f.Wait.Key)
	e.hook(a, events.HookSkillError, f.Skill, SkillFailure{Error: msg})
	e.emitError(a, map[string]any{"skill": f.Skill, "error": msg})
	a.setFrame(nil)
	a.Policy.ReleaseMutex(f.Skill, a.State)
}

func (e *Engine) plan(ctx context.Context, a *Agent, span trace.Span) {
	allow := a.Policy.Allowlist()
	id := a.Identity.ID

	if e.allCooling(id, allow) {
		if e.shouldReport(id, allSkillsKey, e.allCoolingWindow) {
			e.hook(a, events.HookDecisionRejected, "", Rejection{
				Decision: planner.Idle("all skills cooling down"),
				Report:   governance.Report{Reasons: []string{"all allowed skills in cooldown"}},
			})
		}
		return
	}
	if a.Planner == nil {
		e.emitError(a, map[string]any{"error": "agent has no planner"})
		return
	}

	sc := e.contextFor(a)
	e.hook(a, events.HookBeforePlan, "", nil)
	d, err := e.decide(ctx, a, sc, allow)
	if err != nil {
		e.logger.WarnContext(ctx, "engine.plan.error", "planner", a.Planner.Name(), "error", err)
		e.emitError(a, map[string]any{"error": err.Error()})
		return
	}
	e.hook(a, events.HookAfterPlan, d.Skill, d)
	span.SetAttributes(telemetry.DecisionAttributes(a.Planner.Name(), string(d.Kind), d.Skill, d.Confidence)...)

	if d.IsIdle() {
		e.logger.DebugContext(ctx, "engine.plan.idle", "reason", d.Reason)
		return
	}

	report := a.Policy.Validate(d.Skill, governance.ValidationContext{State: a.State, TurnCalls: a.TurnCalls()})
	if !report.Allowed {
		e.logger.InfoContext(ctx, "engine.decision.rejected", "skill", d.Skill, "reason", report.Reason())
		e.metrics.RecordRejection(ctx, d.Skill, "policy")
		e.hook(a, events.HookDecisionRejected, d.Skill, Rejection{Decision: d, Report: report})
		e.emitError(a, map[string]any{"reason": report.Reason()})
		return
	}

	if e.CoolingDown(id, d.Skill) {
		e.metrics.RecordRejection(ctx, d.Skill, "cooldown")
		if e.shouldReport(id, d.Skill, e.reportWindow) {
			e.hook(a, events.HookDecisionRejected, d.Skill, Rejection{
				Decision: d,
				Report:   governance.Report{Reasons: []string{fmt.Sprintf("skill '%s' in cooldown", d.Skill)}},
			})
		}
		return
	}

	skill, ok := e.skills.Get(d.Skill)
	if !ok {
		e.emitError(a, map[string]any{"error": fmt.Sprintf("skill '%s' not found", d.Skill)})
		return
	}

	if v, ok := skill.(skills.Validator); ok {
		if _, err := v.Validate(d.Args); err != nil {
			msg := invalidArgsPrefix + err.Error()
			e.metrics.RecordRejection(ctx, d.Skill, "invalid_args")
			e.hook(a, events.HookDecisionRejected, d.Skill, Rejection{
				Decision: d,
				Report:   governance.Report{Reasons: []string{msg}},
			})
			e.emitError(a, map[string]any{"skill": d.Skill, "error": msg})
			e.markCooldown(a, d.Skill, e.penalties.InvalidArgs)
			return
		}
	}

	e.runSkill(ctx, a, d.Skill, d.Args)
}

// decide calls the planner, turning panics into errors.
func (e *Engine) decide(ctx context.Context, a *Agent, sc *core.SkillContext, allow []string) (d planner.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.CodeInternal, "planner panic: %v", r)
		}
	}()
	return a.Planner.Decide(ctx, sc, planner.Spec{AllowSkills: allow})
}

// runSkill executes one invocation and applies its result to the frame.
func (e *Engine) runSkill(ctx context.Context, a *Agent, key string, args any) {
	skill, ok := e.skills.Get(key)
	if !ok {
		e.emitError(a, map[string]any{"error": fmt.Sprintf("skill '%s' not found", key)})
		a.setFrame(nil)
		a.Policy.ReleaseMutex(key, a.State)
		return
	}

	ctx, span := e.tracer.Start(ctx, "engine.skill")
	defer span.End()

	e.hook(a, events.HookBeforeSkill, key, SkillCall{Args: args})
	a.Policy.HoldMutex(key, a.State)

	res, args := e.execute(ctx, a, skill, args)
	a.setTurnCalls(a.TurnCalls() + 1)
	e.hook(a, events.HookAfterSkill, key, res)

	outcome := e.apply(ctx, a, key, args, res)
	span.SetAttributes(telemetry.SkillAttributes(key, res.OK, outcome)...)
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, res.Error)
	}
	e.metrics.RecordSkillResult(ctx, key, outcome)
}

// execute validates args and runs the skill with a fresh context. Panics
// and validation errors become failed results.
func (e *Engine) execute(ctx context.Context, a *Agent, skill skills.Skill, args any) (res core.Result, validated any) {
	validated = args
	defer func() {
		if r := recover(); r != nil {
			res = core.Failf(errors.CodeSkillFailure, "skill '%s' panicked: %v", skill.Key(), r)
		}
	}()
	if v, ok := skill.(skills.Validator); ok {
		parsed, err := v.Validate(args)
		if err != nil {
			return core.Fail(errors.New(errors.CodeInvalidInput, invalidArgsPrefix+err.Error(), nil)), args
		}
		validated = parsed
	}
	return skill.Execute(ctx, e.contextFor(a), validated), validated
}

// apply interprets res and returns the outcome label.
func (e *Engine) apply(ctx context.Context, a *Agent, key string, args any, res core.Result) string {
	if !res.OK && res.Wait == nil && res.RetryIn <= 0 {
		e.fail(ctx, a, key, res)
		return OutcomeFailed
	}

	wait := res.Wait
	outcome := OutcomeWait
	if wait == nil && !res.OK {
		wait = core.WaitFor(res.RetryIn)
		outcome = OutcomeRetry
	}
	if wait != nil {
		w := *wait
		a.setFrame(&Frame{Skill: key, Args: args, Wait: &w, Next: res.Next, until: e.deadline(w)})
		return outcome
	}

	switch {
	case res.Next != nil && res.Next.Kind == core.NextRun:
		if res.Next.Skill != key {
			a.Policy.ReleaseMutex(key, a.State)
		}
		a.setFrame(&Frame{Skill: res.Next.Skill, Args: res.Next.Args})
		return OutcomeRun
	case res.Next != nil && res.Next.Kind == core.NextContinue:
		a.setFrame(&Frame{Skill: key, Args: args})
		return OutcomeContinue
	default:
		a.setFrame(nil)
		a.Policy.ReleaseMutex(key, a.State)
		return OutcomeDone
	}
}

// fail handles a terminal failure: notify, cool down, release, clear.
func (e *Engine) fail(ctx context.Context, a *Agent, key string, res core.Result) {
	penalty := e.penalty(res)
	e.logger.WarnContext(ctx, "engine.skill.error", "skill", key, "error", res.Error, "cooldown", penalty)
	e.metrics.RecordError(ctx, errors.New(res.Code, res.Error, nil), "engine")
	e.hook(a, events.HookSkillError, key, SkillFailure{Error: res.Error})
	e.emitError(a, map[string]any{"skill": key, "error": res.Error})
	e.markCooldown(a, key, penalty)
	a.Policy.ReleaseMutex(key, a.State)
	a.setFrame(nil)
}

// contextFor builds the skill and planner context of a.
func (e *Engine) contextFor(a *Agent) *core.SkillContext {
	obs := a.Observations()
	var emitter core.AgentEmitter = core.NoopEmitter{}
	if e.events != nil {
		emitter = e.events.ForAgent(a.Identity.ID)
	}
	return &core.SkillContext{
		Identity:     a.Identity,
		ControllerID: a.ControllerID,
		Goal:         a.Goal(),
		Snapshot:     BuildSnapshot(obs, e.snapshot),
		Memory:       a.Memory(),
		Observations: obs,
		Events:       emitter,
		Transport:    e.transport,
		State:        a.State,
		Logger:       e.logger.With("agent_id", a.Identity.ID),
		OnGoal:       a.SetGoal,
	}
}

func (e *Engine) hook(a *Agent, hook events.Hook, skill string, info any) {
	if e.hooks == nil {
		return
	}
	e.hooks.Emit(events.HookEvent{
		Hook:         hook,
		Agent:        a.Identity,
		ControllerID: a.ControllerID,
		Skill:        skill,
		Info:         info,
	})
}

func (e *Engine) emitError(a *Agent, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Emit(core.EventError, a.Identity.ID, payload, core.EmitOptions{Scope: core.ScopeServer})
}
