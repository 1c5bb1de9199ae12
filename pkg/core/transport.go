// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import "context"

// Movement and vehicle requests accepted by a Transport.
type (
	MoveToRequest struct {
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		Z     float64 `json:"z"`
		Speed float64 `json:"speed"`
	}
	GoToEntityRequest struct {
		Entity       int64   `json:"entity"`
		StopDistance float64 `json:"stopDistance"`
		Speed        float64 `json:"speed"`
	}
	WanderAreaRequest struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Z      float64 `json:"z"`
		Radius float64 `json:"radius"`
	}
	EnterVehicleRequest struct {
		VehicleNetID int64 `json:"vehicleNetId"`
		Seat         int   `json:"seat"`
		TimeoutMs    int64 `json:"timeoutMs,omitempty"`
	}
	LeaveVehicleRequest struct {
		TimeoutMs int64 `json:"timeoutMs,omitempty"`
	}
	DriveToRequest struct {
		X             float64 `json:"x"`
		Y             float64 `json:"y"`
		Z             float64 `json:"z"`
		Speed         float64 `json:"speed"`
		DrivingStyle  int64   `json:"drivingStyle"`
		StoppingRange float64 `json:"stoppingRange"`
	}
	ParkVehicleRequest struct {
		Heading    *float64 `json:"heading,omitempty"`
		StopEngine bool     `json:"stopEngine"`
		Handbrake  bool     `json:"handbrake"`
	}
)

// Transport executes movement primitives for an entity and answers wait
// predicates. Implementations live outside the engine.
type Transport interface {
	MoveTo(ctx context.Context, id Identity, req MoveToRequest) error
	GoToEntity(ctx context.Context, id Identity, req GoToEntityRequest) error
	WanderArea(ctx context.Context, id Identity, req WanderAreaRequest) error
	EnterVehicle(ctx context.Context, id Identity, req EnterVehicleRequest) error
	LeaveVehicle(ctx context.Context, id Identity, req LeaveVehicleRequest) error
	DriveTo(ctx context.Context, id Identity, req DriveToRequest) error
	ParkVehicle(ctx context.Context, id Identity, req ParkVehicleRequest) error
	IsWaitSatisfied(id Identity, key string, state StateReader) bool
}
