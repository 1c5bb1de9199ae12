// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package builtin provides the movement and vehicle skills every agent
// group can allow. Skills only talk to the world through the transport
// of their context.
package builtin

import (
	"context"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/skills"
)

// Skill keys.
const (
	MoveTo           = "moveTo"
	GoToEntity       = "goToEntity"
	WanderArea       = "wanderArea"
	EnterVehicle     = "enterVehicle"
	LeaveVehicle     = "leaveVehicle"
	DriveTo          = "driveTo"
	ParkVehicle      = "parkVehicle"
	GoToCarDrivePark = "goToCarDrivePark"
)

// Tags and the mutex group shared by every built-in skill.
const (
	TagMovement = "movement"
	TagVehicle  = "vehicle"
	TagUtility  = "utility"

	MutexMovement = "movement"
)

// Keys lists the built-in skills in registration order.
var Keys = []string{MoveTo, GoToEntity, WanderArea, EnterVehicle, LeaveVehicle, DriveTo, ParkVehicle, GoToCarDrivePark}

// RegisterAll registers every built-in skill. It fails on the first
// duplicate key.
func RegisterAll(r *skills.Registry) error {
	for _, s := range All() {
		if err := r.Register(s, nil); err != nil {
			return err
		}
	}
	return nil
}

// All returns fresh instances of the built-in skills.
func All() []skills.Skill {
	return []skills.Skill{
		moveToSkill(),
		goToEntitySkill(),
		wanderAreaSkill(),
		enterVehicleSkill(),
		leaveVehicleSkill(),
		driveToSkill(),
		parkVehicleSkill(),
		&CarDrivePark{},
	}
}

func meta(key, description string, tags ...string) skills.Meta {
	return skills.Meta{Key: key, Description: description, Tags: tags, Mutex: MutexMovement}
}

// emitState announces a state change to players around the agent.
func emitState(sc *core.SkillContext, radius float64, payload map[string]any) {
	sc.Emit(core.EventState, payload, core.EmitOptions{Scope: core.ScopeNearby, Radius: radius})
}

// call runs one transport primitive and maps its error to a failed result.
func call(ctx context.Context, sc *core.SkillContext, fn func(context.Context, core.Transport) error) (core.Result, bool) {
	if sc.Transport == nil {
		return core.Failf(errors.CodeConnectivity, "no transport configured"), false
	}
	if err := fn(ctx, sc.Transport); err != nil {
		return core.Fail(err), false
	}
	return core.Result{}, true
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }
