// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/governance"
	"github.com/jllopis/kairos-npc/pkg/planner"
	"github.com/jllopis/kairos-npc/pkg/skills"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type waitTransport struct {
	core.Transport
	mu        sync.Mutex
	satisfied map[string]bool
}

func (w *waitTransport) set(key string, ok bool) {
	w.mu.Lock()
	w.satisfied[key] = ok
	w.mu.Unlock()
}

func (w *waitTransport) IsWaitSatisfied(_ core.Identity, key string, _ core.StateReader) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.satisfied[key]
}

// stubPlanner proposes the same decision every time.
type stubPlanner struct {
	decide func() planner.Decision
	calls  int
}

func (p *stubPlanner) Name() string { return "stub" }

func (p *stubPlanner) Decide(context.Context, *core.SkillContext, planner.Spec) (planner.Decision, error) {
	p.calls++
	return p.decide(), nil
}

func always(skill string, args any) *stubPlanner {
	return &stubPlanner{decide: func() planner.Decision { return planner.Propose(skill, args, 1) }}
}

type fixture struct {
	clock     *clock
	registry  *skills.Registry
	transport *waitTransport
	engine    *Engine

	hooks  []events.HookEvent
	events []events.Envelope
	calls  map[string]int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:     &clock{t: time.Unix(1_700_000_000, 0)},
		registry:  skills.NewRegistry(),
		transport: &waitTransport{satisfied: map[string]bool{}},
		calls:     map[string]int{},
	}
	hooks := events.NewHookBus(events.WithSynchronousDelivery())
	for _, h := range []events.Hook{
		events.HookBeforePlan, events.HookAfterPlan, events.HookBeforeSkill, events.HookAfterSkill,
		events.HookDecisionRejected, events.HookSkillError,
	} {
		hooks.Subscribe(h, func(ev events.HookEvent) { f.hooks = append(f.hooks, ev) })
	}
	bus := events.NewEventBus(events.WithSynchronousDelivery())
	bus.SubscribeAll(func(_ context.Context, env events.Envelope) error {
		f.events = append(f.events, env)
		return nil
	})
	f.engine = New(f.registry, hooks, bus, f.transport, append([]Option{WithClock(f.clock.now)}, opts...)...)
	return f
}

func (f *fixture) register(t *testing.T, s *skills.Func) {
	t.Helper()
	run := s.Run
	key := s.Meta.Key
	s.Run = func(ctx context.Context, sc *core.SkillContext, args any) core.Result {
		f.calls[key]++
		return run(ctx, sc, args)
	}
	if err := f.registry.Register(s, nil); err != nil {
		t.Fatalf("register %s: %v", key, err)
	}
}

func (f *fixture) count(hook events.Hook) int {
	n := 0
	for _, ev := range f.hooks {
		if ev.Hook == hook {
			n++
		}
	}
	return n
}

func (f *fixture) lastHook(hook events.Hook) (events.HookEvent, bool) {
	for i := len(f.hooks) - 1; i >= 0; i-- {
		if f.hooks[i].Hook == hook {
			return f.hooks[i], true
		}
	}
	return events.HookEvent{}, false
}

func (f *fixture) errorEvents() []map[string]any {
	var out []map[string]any
	for _, env := range f.events {
		if env.Name == core.EventError {
			out = append(out, env.Payload.(map[string]any))
		}
	}
	return out
}

func newAgent(p planner.Planner, policy *governance.Policy) *Agent {
	return NewAgent(core.Identity{ID: "npc-1", NetID: 50001}, core.Goal{ID: "default"}, p, policy)
}

func TestWanderScenarioWaitsThenReplans(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "wanderArea"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil).WithWait(core.WaitFor(750 * time.Millisecond)).Then(core.Replan("wander"))
	}))
	a := newAgent(planner.NewRule(), governance.NewPolicy().Allow("wanderArea"))
	ctx := context.Background()

	f.engine.Tick(ctx, a)
	if f.calls["wanderArea"] != 1 || a.Active() == nil {
		t.Fatalf("expected wanderArea to run and leave a frame, calls=%d", f.calls["wanderArea"])
	}

	f.clock.advance(500 * time.Millisecond)
	f.engine.Tick(ctx, a)
	if f.calls["wanderArea"] != 1 || f.count(events.HookBeforePlan) != 1 {
		t.Fatalf("tick before the deadline must be a no-op")
	}

	f.clock.advance(300 * time.Millisecond)
	f.engine.Tick(ctx, a)
	if f.count(events.HookBeforePlan) != 2 || f.calls["wanderArea"] != 2 {
		t.Fatalf("expected a replan after the wait, plans=%d calls=%d",
			f.count(events.HookBeforePlan), f.calls["wanderArea"])
	}
}

func TestSingleFrameWhileWaiting(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "enterVehicle"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil).WithWait(core.WaitUntil("inVehicle", 5*time.Second))
	}))
	p := always("enterVehicle", nil)
	a := newAgent(p, governance.NewPolicy().Allow("enterVehicle"))

	for i := 0; i < 5; i++ {
		f.engine.Tick(context.Background(), a)
		f.clock.advance(100 * time.Millisecond)
	}
	if p.calls != 1 || f.calls["enterVehicle"] != 1 {
		t.Fatalf("expected one plan and one execution, got %d and %d", p.calls, f.calls["enterVehicle"])
	}
	if fr := a.Active(); fr == nil || fr.Wait.Key != "inVehicle" {
		t.Fatalf("expected the until frame to stay active, got %+v", fr)
	}
}

func TestUntilWaitResumesWhenSatisfied(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "enterVehicle"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil).WithWait(core.WaitUntil("inVehicle", 5*time.Second)).Then(core.Replan("entered"))
	}))
	p := always("enterVehicle", nil)
	a := newAgent(p, governance.NewPolicy().Allow("enterVehicle"))
	ctx := context.Background()

	f.engine.Tick(ctx, a)
	f.transport.set("inVehicle", true)
	f.clock.advance(time.Second)
	f.engine.Tick(ctx, a)
	if p.calls != 2 {
		t.Fatalf("expected a replan in the same tick the predicate cleared, plans=%d", p.calls)
	}
}

func TestUntilWaitTimeout(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "driveTo"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil).WithWait(core.WaitUntil("nearDestination", 2*time.Second))
	}))
	policy := governance.NewPolicy().Allow("driveTo").MutexGroup("movement", "driveTo")
	a := newAgent(always("driveTo", nil), policy)
	ctx := context.Background()

	f.engine.Tick(ctx, a)
	if holder, _ := core.Lookup[string](a.State, core.MutexKey("movement")); holder != "driveTo" {
		t.Fatalf("expected mutex held while waiting, got %q", holder)
	}

	f.clock.advance(time.Second)
	f.engine.Tick(ctx, a)
	f.clock.advance(1500 * time.Millisecond)
	f.engine.Tick(ctx, a)

	ev, ok := f.lastHook(events.HookSkillError)
	if !ok || ev.Info.(SkillFailure).Error != "wait 'nearDestination' timeout" {
		t.Fatalf("expected a wait timeout skill error, got %+v", ev)
	}
	if a.Active() != nil {
		t.Fatalf("expected frame cleared")
	}
	if _, held := a.State.Get(core.MutexKey("movement")); held {
		t.Fatalf("expected mutex released")
	}
	if f.engine.CoolingDown("npc-1", "driveTo") {
		t.Fatalf("wait timeouts must not apply a cooldown")
	}
	errs := f.errorEvents()
	if len(errs) != 1 || errs[0]["error"] != "wait 'nearDestination' timeout" {
		t.Fatalf("unexpected error events %v", errs)
	}
}

func TestUntilWaitDefaultTimeout(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "leaveVehicle"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil).WithWait(core.WaitUntil("notInVehicle", 0))
	}))
	a := newAgent(always("leaveVehicle", nil), governance.NewPolicy().Allow("leaveVehicle"))
	ctx := context.Background()

	f.engine.Tick(ctx, a)
	f.engine.Tick(ctx, a)
	deadline, ok := a.Active().Deadline()
	if !ok || deadline.Sub(f.clock.now()) != DefaultUntilTimeout {
		t.Fatalf("expected default until timeout, got %v", deadline)
	}
}

func TestTerminalFailureCooldownAndNotices(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "boom"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Failf(errors.CodeSkillFailure, "exploded")
	}))
	f.register(t, skills.NewFunc(skills.Meta{Key: "idle"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil)
	}))
	a := newAgent(always("boom", nil), governance.NewPolicy().Allow("boom", "idle"))
	ctx := context.Background()

	f.engine.Tick(ctx, a)
	if !f.engine.CoolingDown("npc-1", "boom") {
		t.Fatalf("expected boom to cool down")
	}
	until, ok := core.Lookup[time.Time](a.State, core.CooldownKey("boom"))
	if !ok || until.Sub(f.clock.now()) != DefaultPenalties.Default {
		t.Fatalf("expected cooldown mirrored into state, got %v", until)
	}
	if f.count(events.HookSkillError) != 1 || a.Active() != nil {
		t.Fatalf("expected skill error and cleared frame")
	}

	f.clock.advance(time.Second)
	f.engine.Tick(ctx, a)
	f.clock.advance(time.Second)
	f.engine.Tick(ctx, a)
	if f.calls["boom"] != 1 {
		t.Fatalf("cooling skill must not run, calls=%d", f.calls["boom"])
	}
	if n := f.count(events.HookDecisionRejected); n != 1 {
		t.Fatalf("expected a single cooldown notice inside the window, got %d", n)
	}
	ev, _ := f.lastHook(events.HookDecisionRejected)
	if got := ev.Info.(Rejection).Report.Reason(); got != "skill 'boom' in cooldown" {
		t.Fatalf("unexpected rejection reason %q", got)
	}

	f.clock.advance(1500 * time.Millisecond)
	f.engine.Tick(ctx, a)
	if f.calls["boom"] != 2 {
		t.Fatalf("expected boom to run again after its penalty, calls=%d", f.calls["boom"])
	}
}

func TestCooldownNoticesDisabled(t *testing.T) {
	f := newFixture(t, WithCooldownReports(false))
	f.register(t, skills.NewFunc(skills.Meta{Key: "boom"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Failf(errors.CodeSkillFailure, "exploded")
	}))
	a := newAgent(always("boom", nil), governance.NewPolicy().Allow("boom", "other"))
	f.engine.Tick(context.Background(), a)
	f.engine.Tick(context.Background(), a)
	if f.count(events.HookDecisionRejected) != 0 {
		t.Fatalf("expected no cooldown notices")
	}
}

func TestAllSkillsCoolingSkipsPlanner(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "boom"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Failf(errors.CodeSkillFailure, "exploded")
	}))
	p := always("boom", nil)
	a := newAgent(p, governance.NewPolicy().Allow("boom"))
	ctx := context.Background()

	f.engine.Tick(ctx, a)
	f.engine.Tick(ctx, a)
	f.engine.Tick(ctx, a)
	if p.calls != 1 {
		t.Fatalf("planner must be skipped while everything cools down, calls=%d", p.calls)
	}
	if n := f.count(events.HookDecisionRejected); n != 1 {
		t.Fatalf("expected one all-cooling notice, got %d", n)
	}
	ev, _ := f.lastHook(events.HookDecisionRejected)
	if ev.Info.(Rejection).Report.Reason() != "all allowed skills in cooldown" {
		t.Fatalf("unexpected notice %+v", ev.Info)
	}
}

func TestPenaltyByCategory(t *testing.T) {
	cases := []struct {
		name string
		res  core.Result
		want time.Duration
	}{
		{"connectivity code", core.Failf(errors.CodeConnectivity, "no executor"), 60 * time.Second},
		{"connected mode message", core.Result{Error: "driveTo requires connected mode executor in current server transport (no_executor)"}, 60 * time.Second},
		{"invalid input", core.Failf(errors.CodeInvalidInput, "bad x"), 10 * time.Second},
		{"generic", core.Failf(errors.CodeSkillFailure, "nope"), 3 * time.Second},
		{"result supplied", core.Failf(errors.CodeConnectivity, "down").Penalty(1500 * time.Millisecond), 1500 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			res := tc.res
			f.register(t, skills.NewFunc(skills.Meta{Key: "s"}, func(context.Context, *core.SkillContext, any) core.Result {
				return res
			}))
			a := newAgent(always("s", nil), governance.NewPolicy().Allow("s"))
			f.engine.Tick(context.Background(), a)
			until, ok := f.engine.CooldownUntil("npc-1", "s")
			if !ok || until.Sub(f.clock.now()) != tc.want {
				t.Fatalf("expected %v penalty, got %v", tc.want, until.Sub(f.clock.now()))
			}
		})
	}
}

func TestPolicyRejectionHasNoPenalty(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "driveTo"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil)
	}))
	a := newAgent(always("driveTo", nil), governance.NewPolicy().Allow("moveTo"))
	f.engine.Tick(context.Background(), a)

	if f.calls["driveTo"] != 0 || f.engine.CoolingDown("npc-1", "driveTo") {
		t.Fatalf("rejected decisions must neither run nor cool down")
	}
	errs := f.errorEvents()
	if len(errs) != 1 || errs[0]["reason"] != "skill 'driveTo' not in allowlist" {
		t.Fatalf("unexpected error events %v", errs)
	}
	if f.count(events.HookDecisionRejected) != 1 {
		t.Fatalf("expected a decisionRejected hook")
	}
}

func TestEmptyAllowlistRejects(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "moveTo"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil)
	}))
	a := newAgent(always("moveTo", nil), governance.NewPolicy())
	f.engine.Tick(context.Background(), a)
	if f.calls["moveTo"] != 0 {
		t.Fatalf("an empty allowlist must reject every decision")
	}
}

func TestMissingSkill(t *testing.T) {
	f := newFixture(t)
	a := newAgent(always("ghost", nil), governance.NewPolicy().Allow("ghost"))
	f.engine.Tick(context.Background(), a)
	errs := f.errorEvents()
	if len(errs) != 1 || errs[0]["error"] != "skill 'ghost' not found" {
		t.Fatalf("unexpected error events %v", errs)
	}
}

func TestInvalidArgsPenalty(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "moveTo"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil)
	}).WithValidator(func(any) (any, error) {
		return nil, errors.New(errors.CodeInvalidInput, "x must be a number", nil)
	}))
	a := newAgent(always("moveTo", map[string]any{"x": "a"}), governance.NewPolicy().Allow("moveTo", "wanderArea"))
	f.engine.Tick(context.Background(), a)

	if f.calls["moveTo"] != 0 {
		t.Fatalf("invalid args must not execute")
	}
	until, ok := f.engine.CooldownUntil("npc-1", "moveTo")
	if !ok || until.Sub(f.clock.now()) != 10*time.Second {
		t.Fatalf("expected the invalid args penalty, got %v", until)
	}
	ev, _ := f.lastHook(events.HookDecisionRejected)
	if reason := ev.Info.(Rejection).Report.Reason(); !strings.HasPrefix(reason, "invalidSkillArgs: ") {
		t.Fatalf("unexpected reason %q", reason)
	}
	errs := f.errorEvents()
	if len(errs) != 1 || errs[0]["skill"] != "moveTo" {
		t.Fatalf("unexpected error events %v", errs)
	}
}

func TestValidatedArgsReachTheSkill(t *testing.T) {
	f := newFixture(t)
	var got any
	f.register(t, skills.NewFunc(skills.Meta{Key: "moveTo"}, func(_ context.Context, _ *core.SkillContext, args any) core.Result {
		got = args
		return core.Ok(nil).WithWait(core.WaitFor(time.Second))
	}).WithValidator(func(any) (any, error) {
		return core.MoveToRequest{X: 1, Speed: 1.5}, nil
	}))
	a := newAgent(always("moveTo", map[string]any{"x": 1}), governance.NewPolicy().Allow("moveTo"))
	f.engine.Tick(context.Background(), a)

	if req, ok := got.(core.MoveToRequest); !ok || req.Speed != 1.5 {
		t.Fatalf("expected validated args, got %#v", got)
	}
	if _, ok := a.Active().Args.(core.MoveToRequest); !ok {
		t.Fatalf("expected the frame to keep validated args")
	}
}

func TestSkillPanicIsTerminalFailure(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "crash"}, func(context.Context, *core.SkillContext, any) core.Result {
		panic("kaboom")
	}))
	a := newAgent(always("crash", nil), governance.NewPolicy().Allow("crash"))
	f.engine.Tick(context.Background(), a)

	ev, ok := f.lastHook(events.HookSkillError)
	if !ok || !strings.Contains(ev.Info.(SkillFailure).Error, "kaboom") {
		t.Fatalf("expected panic reported as skill error, got %+v", ev)
	}
	if !f.engine.CoolingDown("npc-1", "crash") {
		t.Fatalf("expected a cooldown after a panic")
	}
}

func TestPlannerPanicDoesNotEscape(t *testing.T) {
	f := newFixture(t)
	p := &stubPlanner{decide: func() planner.Decision { panic("planner down") }}
	a := newAgent(p, governance.NewPolicy().Allow("moveTo"))
	f.engine.Tick(context.Background(), a)

	errs := f.errorEvents()
	if len(errs) != 1 || !strings.Contains(errs[0]["error"].(string), "planner down") {
		t.Fatalf("unexpected error events %v", errs)
	}
}

func TestMutexHeldAcrossWait(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "driveTo"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil).WithWait(core.WaitFor(time.Second))
	}))
	policy := governance.NewPolicy().Allow("driveTo", "moveTo").MutexGroup("movement", "driveTo", "moveTo")
	a := newAgent(always("driveTo", nil), policy)
	f.engine.Tick(context.Background(), a)

	report := policy.Validate("moveTo", governance.ValidationContext{State: a.State})
	if report.Allowed || report.Mutex == nil || report.Mutex.HeldBy != "driveTo" {
		t.Fatalf("expected mutex conflict held by driveTo, got %+v", report)
	}

	f.clock.advance(time.Second)
	f.engine.Tick(context.Background(), a)
	if a.Active() == nil {
		t.Fatalf("expected driveTo to re-run and wait again")
	}
}

func TestContinueAndRun(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "steps"}, func(_ context.Context, sc *core.SkillContext, _ any) core.Result {
		n, _ := core.LookupInt(sc.State, core.StepKey("steps"))
		n++
		sc.State.Set(core.StepKey("steps"), n)
		if n < 3 {
			return core.Ok(n).Then(core.Continue())
		}
		return core.Ok(n).Then(core.Run("park", map[string]any{"stopEngine": true}))
	}))
	var parkArgs any
	f.register(t, skills.NewFunc(skills.Meta{Key: "park"}, func(_ context.Context, _ *core.SkillContext, args any) core.Result {
		parkArgs = args
		return core.Ok(nil)
	}))
	p := always("steps", nil)
	a := newAgent(p, governance.NewPolicy().Allow("steps", "park"))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.engine.Tick(ctx, a)
	}
	if p.calls != 1 {
		t.Fatalf("continue and run must not re-plan, plans=%d", p.calls)
	}
	if f.calls["steps"] != 3 || f.calls["park"] != 1 {
		t.Fatalf("unexpected calls %v", f.calls)
	}
	if parkArgs.(map[string]any)["stopEngine"] != true {
		t.Fatalf("expected run args forwarded, got %v", parkArgs)
	}
	if a.Active() != nil {
		t.Fatalf("expected the frame cleared after park")
	}
}

func TestRunAfterWait(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "enter"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil).WithWait(core.WaitFor(time.Second)).Then(core.Run("drive", nil))
	}))
	f.register(t, skills.NewFunc(skills.Meta{Key: "drive"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil)
	}))
	p := always("enter", nil)
	a := newAgent(p, governance.NewPolicy().Allow("enter", "drive").MutexGroup("movement", "enter"))
	ctx := context.Background()

	f.engine.Tick(ctx, a)
	f.clock.advance(time.Second)
	f.engine.Tick(ctx, a)
	if f.calls["drive"] != 1 || p.calls != 1 {
		t.Fatalf("expected drive to run after the wait, calls=%v plans=%d", f.calls, p.calls)
	}
	if _, held := a.State.Get(core.MutexKey("movement")); held {
		t.Fatalf("expected enter to release its mutex")
	}
}

func TestRetryInSynthesizesWait(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	f.register(t, skills.NewFunc(skills.Meta{Key: "flaky"}, func(context.Context, *core.SkillContext, any) core.Result {
		attempts++
		if attempts == 1 {
			return core.Failf(errors.CodeTimeout, "busy").RetryAfter(2 * time.Second)
		}
		return core.Ok(nil)
	}))
	a := newAgent(always("flaky", nil), governance.NewPolicy().Allow("flaky"))
	ctx := context.Background()

	f.engine.Tick(ctx, a)
	if f.engine.CoolingDown("npc-1", "flaky") || a.Active() == nil {
		t.Fatalf("a retry must wait without a cooldown")
	}
	f.clock.advance(time.Second)
	f.engine.Tick(ctx, a)
	if attempts != 1 {
		t.Fatalf("retried too early")
	}
	f.clock.advance(time.Second)
	f.engine.Tick(ctx, a)
	if attempts != 2 || a.Active() != nil {
		t.Fatalf("expected a second attempt that clears the frame, attempts=%d", attempts)
	}
}

func TestTurnCallsCeiling(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "moveTo"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Ok(nil)
	}))
	a := newAgent(always("moveTo", nil), governance.NewPolicy().Allow("moveTo").LimitCallsPerTurn(1))
	f.engine.Tick(context.Background(), a)
	f.engine.Tick(context.Background(), a)
	if f.calls["moveTo"] != 2 || a.TurnCalls() != 1 {
		t.Fatalf("turn counter must reset every tick, calls=%d turn=%d", f.calls["moveTo"], a.TurnCalls())
	}
}

func TestSkillContextCarriesAgent(t *testing.T) {
	f := newFixture(t)
	var sc *core.SkillContext
	f.register(t, skills.NewFunc(skills.Meta{Key: "look"}, func(_ context.Context, c *core.SkillContext, _ any) core.Result {
		sc = c
		c.SetGoal(core.Goal{ID: "patrol"})
		c.Emit("npc:wave", map[string]any{"to": "player"}, core.EmitOptions{Scope: core.ScopeNearby, Radius: 20})
		return core.Ok(nil)
	}))
	a := newAgent(always("look", nil), governance.NewPolicy().Allow("look"))
	a.Observe(map[string]any{"speed": 1.23456})
	a.Remember("met player")
	f.engine.Tick(context.Background(), a)

	if sc.Snapshot["speed"] != 1.23 || sc.Memory[0] != "met player" || sc.Identity.NetID != 50001 {
		t.Fatalf("unexpected skill context %+v", sc)
	}
	if a.Goal().ID != "patrol" {
		t.Fatalf("expected goal updated through the context")
	}
	if v, _ := a.State.Get(core.ObservationKey("speed")); v != 1.23456 {
		t.Fatalf("expected observation mirrored into state")
	}
	last := f.events[len(f.events)-1]
	if last.Name != "npc:wave" || last.AgentID != "npc-1" || last.Scope != core.ScopeNearby {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestForgetDropsCooldowns(t *testing.T) {
	f := newFixture(t)
	f.register(t, skills.NewFunc(skills.Meta{Key: "boom"}, func(context.Context, *core.SkillContext, any) core.Result {
		return core.Failf(errors.CodeSkillFailure, "exploded")
	}))
	a := newAgent(always("boom", nil), governance.NewPolicy().Allow("boom"))
	f.engine.Tick(context.Background(), a)
	f.engine.Forget("npc-1")
	if f.engine.CoolingDown("npc-1", "boom") {
		t.Fatalf("expected cooldowns dropped")
	}
}

func TestBuildSnapshot(t *testing.T) {
	obs := map[string]any{
		"b":   map[string]any{"x": 1.005, "y": []any{2.346}},
		"a":   3.14159,
		"c":   "text",
		"d":   4,
		"zzz": 1.0,
	}
	snap := BuildSnapshot(obs, SnapshotOptions{MaxItems: 4, Round: 2})
	if len(snap) != 4 {
		t.Fatalf("expected 4 keys, got %v", snap)
	}
	if _, ok := snap["zzz"]; ok {
		t.Fatalf("expected the last key truncated")
	}
	if snap["a"] != 3.14 || snap["c"] != "text" || snap["d"] != 4 {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	nested := snap["b"].(map[string]any)
	if nested["y"].([]any)[0] != 2.35 {
		t.Fatalf("expected nested rounding, got %v", nested)
	}
}

type forgettingTransport struct {
	waitTransport
	forgot []string
}

func (f *forgettingTransport) Forget(agentID string) { f.forgot = append(f.forgot, agentID) }

func TestForgetReachesTransport(t *testing.T) {
	tr := &forgettingTransport{waitTransport: waitTransport{satisfied: map[string]bool{}}}
	e := New(skills.NewRegistry(), nil, nil, tr)
	e.Forget("npc-1")
	if len(tr.forgot) != 1 || tr.forgot[0] != "npc-1" {
		t.Fatalf("expected transport forget, got %v", tr.forgot)
	}
}
