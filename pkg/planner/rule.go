// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"context"

	"github.com/jllopis/kairos-npc/pkg/core"
)

// Observation keys read by the rule planner.
const (
	ObsAssignedVehicle = "assignedVeh"
	ObsDestination     = "dest"
	ObsAnchor          = "anchor"
)

// RulePlanner is the deterministic planner. It checks a fixed list of
// rules in priority order and returns the first one that applies.
type RulePlanner struct{}

// NewRule returns a rule planner.
func NewRule() *RulePlanner { return &RulePlanner{} }

func (*RulePlanner) Name() string { return "rule" }

// Decide implements Planner. It never returns an error.
func (*RulePlanner) Decide(_ context.Context, sc *core.SkillContext, spec Spec) (Decision, error) {
	obs := sc.Observations

	if netID, ok := assignedVehicle(obs); ok && spec.Allows("goToCarDrivePark") {
		if dest, ok := obs[ObsDestination]; ok && dest != nil {
			return Propose("goToCarDrivePark", map[string]any{
				"vehicleNetId": netID,
				"dest":         dest,
			}, 0.82), nil
		}
	}

	if spec.Allows("wanderArea") {
		args := core.Vec3{}.Map()
		if anchor, ok := obs[ObsAnchor].(map[string]any); ok {
			for k, v := range anchor {
				args[k] = v
			}
		} else if v, ok := core.AsVec3(obs[ObsAnchor]); ok {
			args = v.Map()
		}
		args["radius"] = 25.0
		return Propose("wanderArea", args, 0.55), nil
	}

	return Idle("no deterministic decision available"), nil
}

func assignedVehicle(obs map[string]any) (any, bool) {
	veh, ok := obs[ObsAssignedVehicle].(map[string]any)
	if !ok {
		return nil, false
	}
	netID := veh["netId"]
	if f, ok := core.AsFloat(netID); !ok || f == 0 {
		return nil, false
	}
	return netID, true
}
