// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/engine"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/governance"
	"github.com/jllopis/kairos-npc/pkg/planner"
	"github.com/jllopis/kairos-npc/pkg/skills"
	"github.com/jllopis/kairos-npc/pkg/transport"
)

const (
	agentNet   = int64(50001)
	vehicleNet = int64(60000)
)

func TestRegisterAll(t *testing.T) {
	r := skills.NewRegistry()
	if err := RegisterAll(r); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	keys := r.Keys()
	if len(keys) != len(Keys) {
		t.Fatalf("expected %d skills, got %v", len(Keys), keys)
	}
	for _, k := range Keys {
		if !slices.Contains(keys, k) {
			t.Fatalf("missing skill %s", k)
		}
	}
	if err := RegisterAll(r); !errors.Is(err, errors.CodeDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	vehicle := r.AllowByTag(TagVehicle)
	for _, k := range []string{EnterVehicle, LeaveVehicle, DriveTo, ParkVehicle, GoToCarDrivePark} {
		if !slices.Contains(vehicle, k) {
			t.Fatalf("expected %s tagged vehicle, got %v", k, vehicle)
		}
	}
	if slices.Contains(vehicle, WanderArea) {
		t.Fatalf("wanderArea must not be tagged vehicle")
	}
	m, ok := r.Meta(GoToCarDrivePark)
	if !ok || m.Mutex != MutexMovement || m.Description == "" {
		t.Fatalf("unexpected composed meta %+v", m)
	}
}

func TestValidatorDefaults(t *testing.T) {
	v, err := validateMoveTo(map[string]any{"x": 1.0, "y": 2.0, "z": 3.0})
	if err != nil {
		t.Fatalf("moveTo: %v", err)
	}
	if req := v.(core.MoveToRequest); req.Speed != DefaultWalkSpeed || req.Y != 2 {
		t.Fatalf("unexpected moveTo args %+v", req)
	}

	v, err = validateWanderArea(map[string]any{"x": 0.0, "y": 0.0, "z": 0.0})
	if err != nil || v.(core.WanderAreaRequest).Radius != DefaultWanderRadius {
		t.Fatalf("unexpected wander args %+v %v", v, err)
	}

	v, err = validateEnterVehicle(map[string]any{"vehicleNetId": 60000.0})
	if err != nil {
		t.Fatalf("enterVehicle: %v", err)
	}
	if req := v.(core.EnterVehicleRequest); req.Seat != DefaultSeat || req.VehicleNetID != vehicleNet {
		t.Fatalf("unexpected enter args %+v", req)
	}

	v, err = (&CarDrivePark{}).Validate(map[string]any{
		"vehicleNetId": 60000.0,
		"dest":         map[string]any{"x": 100.0, "y": 0.0, "z": 0.0},
	})
	if err != nil {
		t.Fatalf("goToCarDrivePark: %v", err)
	}
	args := v.(CarDriveParkArgs)
	if args.DriveSpeed != DefaultDriveSpeed || args.DrivingStyle != DefaultDrivingStyle || args.Dest.X != 100 {
		t.Fatalf("unexpected composed args %+v", args)
	}
}

func TestValidatorErrors(t *testing.T) {
	cases := []struct {
		name  string
		check func(any) (any, error)
		input any
		want  string
	}{
		{"missing coordinate", validateMoveTo, map[string]any{"x": 1.0, "y": 2.0}, "z"},
		{"wrong type", validateMoveTo, map[string]any{"x": "far", "y": 2.0, "z": 3.0}, "x"},
		{"negative radius", validateWanderArea, map[string]any{"x": 0.0, "y": 0.0, "z": 0.0, "radius": -1.0}, "radius"},
		{"missing entity", validateGoToEntity, map[string]any{}, "entity"},
		{"missing vehicle", validateEnterVehicle, map[string]any{"seat": 0.0}, "vehicleNetId"},
		{"missing dest", (&CarDrivePark{}).Validate, map[string]any{"vehicleNetId": 1.0}, "dest"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.check(tc.input)
			if !errors.Is(err, errors.CodeInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestNoTransportFails(t *testing.T) {
	sc := &core.SkillContext{Identity: core.Identity{ID: "npc-1", NetID: agentNet}, State: core.NewState(), Events: core.NoopEmitter{}}
	res := moveToSkill().Execute(context.Background(), sc, core.MoveToRequest{X: 1})
	if res.OK || !strings.Contains(res.Error, "no transport") {
		t.Fatalf("expected connectivity failure, got %+v", res)
	}
}

type world struct {
	now    time.Time
	sim    *transport.Simulated
	engine *engine.Engine
	states []string
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{now: time.Unix(1_700_000_000, 0)}
	preds := transport.NewPredicates()
	preds.SetPosition(agentNet, core.Vec3{})
	preds.SetPosition(vehicleNet, core.Vec3{X: 10})
	w.sim = transport.NewSimulated(preds)

	r := skills.NewRegistry()
	if err := RegisterAll(r); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	bus := events.NewEventBus(events.WithSynchronousDelivery())
	bus.Subscribe(core.EventState, func(_ context.Context, env events.Envelope) error {
		w.states = append(w.states, env.Payload.(map[string]any)["state"].(string))
		return nil
	})
	w.engine = engine.New(r, events.NewHookBus(events.WithSynchronousDelivery()), bus, w.sim,
		engine.WithClock(func() time.Time { return w.now }))
	return w
}

func (w *world) skills() []string {
	var out []string
	for _, c := range w.sim.Calls() {
		out = append(out, c.Skill)
	}
	return out
}

func TestCarDriveParkEndToEnd(t *testing.T) {
	w := newWorld(t)
	a := engine.NewAgent(core.Identity{ID: "npc-1", NetID: agentNet}, core.Goal{ID: "drivers"},
		planner.NewRule(), governance.NewPolicy().
			Allow(GoToCarDrivePark, WanderArea).
			MutexGroup(MutexMovement, GoToCarDrivePark, WanderArea))
	a.Observe(map[string]any{
		"assignedVeh": map[string]any{"netId": 60000.0},
		"dest":        map[string]any{"x": 100.0, "y": 0.0, "z": 0.0},
	})
	ctx := context.Background()

	for range 4 {
		w.engine.Tick(ctx, a)
	}
	want := []string{"goToEntity", "enterVehicle", "driveTo", "parkVehicle"}
	if got := w.skills(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if f := a.Active(); f == nil || f.Wait == nil || f.Wait.Kind != core.WaitDuration {
		t.Fatalf("expected park settle wait, got %+v", f)
	}
	if holder, _ := core.Lookup[string](a.State, core.MutexKey(MutexMovement)); holder != GoToCarDrivePark {
		t.Fatalf("expected movement mutex held across steps, got %q", holder)
	}
	if pos, _ := w.sim.World().Position(vehicleNet); pos.X != 100 {
		t.Fatalf("expected vehicle dragged to destination, got %+v", pos)
	}

	w.engine.Tick(ctx, a)
	if len(w.sim.Calls()) != 4 {
		t.Fatalf("settle wait must hold the flow, calls=%v", w.skills())
	}

	w.now = w.now.Add(400 * time.Millisecond)
	w.engine.Tick(ctx, a)
	if step, _ := core.LookupInt(a.State, core.StepKey(GoToCarDrivePark)); step != 0 {
		t.Fatalf("expected step reset, got %d", step)
	}
	if a.Active() != nil {
		t.Fatalf("expected frame cleared after parking")
	}
	wantStates := []string{"going_to_vehicle", "entering_vehicle", "driving", "parking", "parked_idle"}
	if !slices.Equal(w.states, wantStates) {
		t.Fatalf("expected states %v, got %v", wantStates, w.states)
	}
	if _, held := a.State.Get(core.MutexKey(MutexMovement)); held {
		t.Fatalf("expected movement mutex released")
	}
}

func TestCarDriveParkFailureResetsStep(t *testing.T) {
	w := newWorld(t)
	a := engine.NewAgent(core.Identity{ID: "npc-1", NetID: agentNet}, core.Goal{ID: "drivers"},
		planner.NewRule(), governance.NewPolicy().Allow(GoToCarDrivePark))
	a.Observe(map[string]any{
		"assignedVeh": map[string]any{"netId": 70000.0},
		"dest":        map[string]any{"x": 5.0, "y": 5.0, "z": 0.0},
	})

	w.engine.Tick(context.Background(), a)
	if step, _ := core.LookupInt(a.State, core.StepKey(GoToCarDrivePark)); step != 0 {
		t.Fatalf("expected step 0 after failed approach, got %d", step)
	}
	if a.Active() != nil {
		t.Fatalf("expected failed frame cleared")
	}
	if _, cooling := a.State.Get(core.CooldownKey(GoToCarDrivePark)); !cooling {
		t.Fatalf("expected cooldown after failure")
	}
}

func TestWanderScenario(t *testing.T) {
	w := newWorld(t)
	a := engine.NewAgent(core.Identity{ID: "npc-1", NetID: agentNet}, core.Goal{ID: "wanderers"},
		planner.NewRule(), governance.NewPolicy().Allow(WanderArea))
	a.Observe(map[string]any{"anchor": map[string]any{"x": 0.0, "y": 0.0, "z": 0.0}})
	ctx := context.Background()

	w.engine.Tick(ctx, a)
	w.now = w.now.Add(500 * time.Millisecond)
	w.engine.Tick(ctx, a)
	if n := len(w.sim.Calls()); n != 1 {
		t.Fatalf("expected wander pause to hold, calls=%d", n)
	}
	w.now = w.now.Add(300 * time.Millisecond)
	w.engine.Tick(ctx, a)
	if n := len(w.sim.Calls()); n != 2 {
		t.Fatalf("expected a second wander after the pause, calls=%d", n)
	}
	pos, _ := w.sim.World().Position(agentNet)
	if d := pos.Distance(core.Vec3{}); d > DefaultWanderRadius+1e-9 {
		t.Fatalf("wandered outside radius: %v", d)
	}
}
