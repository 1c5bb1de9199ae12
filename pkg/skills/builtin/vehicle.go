// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/skills"
	"github.com/jllopis/kairos-npc/pkg/transport"
)

// Vehicle defaults.
const (
	DefaultSeat          = -1
	DefaultDriveSpeed    = 18.0
	DefaultDrivingStyle  = 786603
	DefaultStoppingRange = 5.0

	EnterTimeout  = 8 * time.Second
	LeaveTimeout  = 6 * time.Second
	ArriveTimeout = 15 * time.Second
	ParkSettle    = 300 * time.Millisecond
)

func enterVehicleSkill() *skills.Func {
	return skills.NewFunc(meta(EnterVehicle, "Enter a vehicle seat.", TagVehicle, TagMovement),
		func(ctx context.Context, sc *core.SkillContext, args any) core.Result {
			req, res, ok := typed[core.EnterVehicleRequest](args)
			if !ok {
				return res
			}
			emitState(sc, 120, map[string]any{"state": "entering_vehicle", "vehicle": req.VehicleNetID})
			if res, ok := call(ctx, sc, func(ctx context.Context, t core.Transport) error {
				return t.EnterVehicle(ctx, sc.Identity, req)
			}); !ok {
				return res
			}
			timeout := EnterTimeout
			if req.TimeoutMs > 0 {
				timeout = ms(req.TimeoutMs)
			}
			return core.Ok(nil).WithWait(core.WaitUntil(transport.PredInVehicle, timeout)).Then(core.Replan("entered vehicle"))
		}).WithValidator(validateEnterVehicle)
}

func validateEnterVehicle(input any) (any, error) {
	in, err := decodeArgs[struct {
		VehicleNetID *int64 `json:"vehicleNetId"`
		Seat         *int   `json:"seat"`
		TimeoutMs    *int64 `json:"timeoutMs"`
	}](input)
	if err != nil {
		return nil, err
	}
	if err := required(map[string]bool{"vehicleNetId": in.VehicleNetID == nil}); err != nil {
		return nil, err
	}
	return core.EnterVehicleRequest{
		VehicleNetID: *in.VehicleNetID,
		Seat:         or(in.Seat, DefaultSeat),
		TimeoutMs:    or(in.TimeoutMs, 0),
	}, nil
}

func leaveVehicleSkill() *skills.Func {
	return skills.NewFunc(meta(LeaveVehicle, "Leave the current vehicle.", TagVehicle),
		func(ctx context.Context, sc *core.SkillContext, args any) core.Result {
			req, res, ok := typed[core.LeaveVehicleRequest](args)
			if !ok {
				return res
			}
			emitState(sc, 120, map[string]any{"state": "leaving_vehicle"})
			if res, ok := call(ctx, sc, func(ctx context.Context, t core.Transport) error {
				return t.LeaveVehicle(ctx, sc.Identity, req)
			}); !ok {
				return res
			}
			timeout := LeaveTimeout
			if req.TimeoutMs > 0 {
				timeout = ms(req.TimeoutMs)
			}
			return core.Ok(nil).WithWait(core.WaitUntil(transport.PredNotInVehicle, timeout)).Then(core.Replan("left vehicle"))
		}).WithValidator(validateLeaveVehicle)
}

func validateLeaveVehicle(input any) (any, error) {
	in, err := decodeArgs[struct {
		TimeoutMs *int64 `json:"timeoutMs"`
	}](input)
	if err != nil {
		return nil, err
	}
	return core.LeaveVehicleRequest{TimeoutMs: or(in.TimeoutMs, 0)}, nil
}

func driveToSkill() *skills.Func {
	return skills.NewFunc(meta(DriveTo, "Drive the current vehicle to a destination.", TagVehicle, TagMovement),
		func(ctx context.Context, sc *core.SkillContext, args any) core.Result {
			req, res, ok := typed[core.DriveToRequest](args)
			if !ok {
				return res
			}
			emitState(sc, 140, map[string]any{"state": "driving"})
			if res, ok := call(ctx, sc, func(ctx context.Context, t core.Transport) error {
				return t.DriveTo(ctx, sc.Identity, req)
			}); !ok {
				return res
			}
			return core.Ok(nil).WithWait(core.WaitUntil(transport.PredNearDestination, ArriveTimeout)).Then(core.Replan("arrived"))
		}).WithValidator(validateDriveTo)
}

func validateDriveTo(input any) (any, error) {
	in, err := decodeArgs[struct {
		pointArgs
		Speed         *float64 `json:"speed"`
		DrivingStyle  *int64   `json:"drivingStyle"`
		StoppingRange *float64 `json:"stoppingRange"`
	}](input)
	if err != nil {
		return nil, err
	}
	if err := in.check(); err != nil {
		return nil, err
	}
	p := in.vec()
	return core.DriveToRequest{
		X: p.X, Y: p.Y, Z: p.Z,
		Speed:         or(in.Speed, DefaultDriveSpeed),
		DrivingStyle:  or(in.DrivingStyle, DefaultDrivingStyle),
		StoppingRange: or(in.StoppingRange, DefaultStoppingRange),
	}, nil
}

func parkVehicleSkill() *skills.Func {
	return skills.NewFunc(meta(ParkVehicle, "Park the current vehicle.", TagVehicle),
		func(ctx context.Context, sc *core.SkillContext, args any) core.Result {
			req, res, ok := typed[core.ParkVehicleRequest](args)
			if !ok {
				return res
			}
			emitState(sc, 90, map[string]any{"state": "parking"})
			if res, ok := call(ctx, sc, func(ctx context.Context, t core.Transport) error {
				return t.ParkVehicle(ctx, sc.Identity, req)
			}); !ok {
				return res
			}
			return core.Ok(nil).WithWait(core.WaitFor(ParkSettle)).Then(core.Replan("parked"))
		}).WithValidator(validateParkVehicle)
}

func validateParkVehicle(input any) (any, error) {
	in, err := decodeArgs[struct {
		Heading    *float64 `json:"heading"`
		StopEngine *bool    `json:"stopEngine"`
		Handbrake  *bool    `json:"handbrake"`
	}](input)
	if err != nil {
		return nil, err
	}
	return core.ParkVehicleRequest{
		Heading:    in.Heading,
		StopEngine: or(in.StopEngine, true),
		Handbrake:  or(in.Handbrake, true),
	}, nil
}
