// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/transport"
)

// Step waits of the composed vehicle flow.
const (
	ReachVehicleTimeout = 8 * time.Second
	BoardTimeout        = 7 * time.Second
	ArrivalTimeout      = 20 * time.Second
	ParkedSettle        = 350 * time.Millisecond

	approachStopDistance = 2.2
)

// CarDriveParkArgs are the validated args of goToCarDrivePark.
type CarDriveParkArgs struct {
	VehicleNetID int64     `json:"vehicleNetId"`
	Dest         core.Vec3 `json:"dest"`
	ParkHeading  *float64  `json:"parkHeading,omitempty"`
	Seat         int       `json:"seat"`
	DriveSpeed   float64   `json:"driveSpeed"`
	DrivingStyle int64     `json:"drivingStyle"`
}

// CarDrivePark walks to a vehicle, boards it, drives to a destination
// and parks. Each execution runs one step; the step counter lives in the
// agent state under goToCarDrivePark.step.
type CarDrivePark struct{}

func (*CarDrivePark) Key() string   { return GoToCarDrivePark }
func (*CarDrivePark) Mutex() string { return MutexMovement }

func (*CarDrivePark) Tags() []string {
	return []string{TagVehicle, TagMovement, TagUtility}
}

func (*CarDrivePark) Description() string {
	return "Go to a vehicle, enter it, drive to a destination and park."
}

// Validate requires vehicleNetId and dest and fills the driving defaults.
func (*CarDrivePark) Validate(input any) (any, error) {
	in, err := decodeArgs[struct {
		VehicleNetID *int64     `json:"vehicleNetId"`
		Dest         *pointArgs `json:"dest"`
		ParkHeading  *float64   `json:"parkHeading"`
		Seat         *int       `json:"seat"`
		DriveSpeed   *float64   `json:"driveSpeed"`
		DrivingStyle *int64     `json:"drivingStyle"`
	}](input)
	if err != nil {
		return nil, err
	}
	if err := required(map[string]bool{"vehicleNetId": in.VehicleNetID == nil, "dest": in.Dest == nil}); err != nil {
		return nil, err
	}
	if err := in.Dest.check(); err != nil {
		return nil, err
	}
	return CarDriveParkArgs{
		VehicleNetID: *in.VehicleNetID,
		Dest:         in.Dest.vec(),
		ParkHeading:  in.ParkHeading,
		Seat:         or(in.Seat, DefaultSeat),
		DriveSpeed:   or(in.DriveSpeed, DefaultDriveSpeed),
		DrivingStyle: or(in.DrivingStyle, DefaultDrivingStyle),
	}, nil
}

func (s *CarDrivePark) Execute(ctx context.Context, sc *core.SkillContext, raw any) core.Result {
	args, res, ok := typed[CarDriveParkArgs](raw)
	if !ok {
		return res
	}
	sc.State.Set(core.KeyTargetVehicle, args.VehicleNetID)
	sc.State.Set(core.KeyTargetDestination, args.Dest)

	stepKey := core.StepKey(GoToCarDrivePark)
	step, _ := core.LookupInt(sc.State, stepKey)
	next := func(n int, wait *core.Wait, primitive func(context.Context, core.Transport) error) core.Result {
		sc.State.Set(stepKey, n)
		if res, ok := call(ctx, sc, primitive); !ok {
			sc.State.Set(stepKey, 0)
			return res
		}
		return core.Ok(map[string]any{"step": n}).WithWait(wait).Then(core.Continue())
	}

	switch step {
	case 0:
		emitState(sc, 120, map[string]any{"state": "going_to_vehicle", "vehicle": args.VehicleNetID})
		return next(1, core.WaitUntil(transport.PredNearVehicle, ReachVehicleTimeout), func(ctx context.Context, t core.Transport) error {
			return t.GoToEntity(ctx, sc.Identity, core.GoToEntityRequest{
				Entity: args.VehicleNetID, StopDistance: approachStopDistance, Speed: DefaultApproachPace,
			})
		})
	case 1:
		emitState(sc, 120, map[string]any{"state": "entering_vehicle", "vehicle": args.VehicleNetID})
		return next(2, core.WaitUntil(transport.PredInVehicle, BoardTimeout), func(ctx context.Context, t core.Transport) error {
			return t.EnterVehicle(ctx, sc.Identity, core.EnterVehicleRequest{VehicleNetID: args.VehicleNetID, Seat: args.Seat})
		})
	case 2:
		emitState(sc, 140, map[string]any{"state": "driving"})
		return next(3, core.WaitUntil(transport.PredNearDestination, ArrivalTimeout), func(ctx context.Context, t core.Transport) error {
			return t.DriveTo(ctx, sc.Identity, core.DriveToRequest{
				X: args.Dest.X, Y: args.Dest.Y, Z: args.Dest.Z,
				Speed:         args.DriveSpeed,
				DrivingStyle:  args.DrivingStyle,
				StoppingRange: DefaultStoppingRange,
			})
		})
	case 3:
		emitState(sc, 90, map[string]any{"state": "parking"})
		return next(4, core.WaitFor(ParkedSettle), func(ctx context.Context, t core.Transport) error {
			return t.ParkVehicle(ctx, sc.Identity, core.ParkVehicleRequest{Heading: args.ParkHeading, StopEngine: true, Handbrake: true})
		})
	default:
		sc.State.Set(stepKey, 0)
		emitState(sc, 90, map[string]any{"state": "parked_idle"})
		return core.Ok(map[string]any{"step": 0}).Then(core.Replan("parked"))
	}
}
