// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
)

// Simulated completes every primitive instantly against a Predicates
// world: agents teleport to their targets and vehicle occupancy is
// tracked per net id.
type Simulated struct {
	world *Predicates
	angle func() float64

	mu       sync.Mutex
	occupied map[int64]int64
	calls    []Call
}

// Call is one primitive received by Simulated.
type Call struct {
	AgentID string
	Skill   string
	Args    any
}

// NewSimulated creates a simulated transport over world. A nil world
// gets a fresh store.
func NewSimulated(world *Predicates) *Simulated {
	if world == nil {
		world = NewPredicates()
	}
	return &Simulated{
		world:    world,
		angle:    func() float64 { return rand.Float64() * 2 * math.Pi },
		occupied: make(map[int64]int64),
	}
}

// World returns the predicate store the simulation writes to.
func (s *Simulated) World() *Predicates { return s.world }

// Calls returns the primitives received so far.
func (s *Simulated) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Simulated) record(id core.Identity, skill string, args any) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{AgentID: id.ID, Skill: skill, Args: args})
	s.mu.Unlock()
	if id.NetID <= 0 {
		return errors.Newf(errors.CodeNotFound, "npc '%s' has no entity", id.ID)
	}
	return nil
}

func (s *Simulated) MoveTo(_ context.Context, id core.Identity, req core.MoveToRequest) error {
	if err := s.record(id, skillMoveTo, req); err != nil {
		return err
	}
	s.move(id.NetID, core.Vec3{X: req.X, Y: req.Y, Z: req.Z})
	return nil
}

func (s *Simulated) GoToEntity(_ context.Context, id core.Identity, req core.GoToEntityRequest) error {
	if err := s.record(id, skillGoToEnt, req); err != nil {
		return err
	}
	target, ok := s.world.Position(req.Entity)
	if !ok {
		return errors.Newf(errors.CodeNotFound, "target entity '%d' does not exist", req.Entity)
	}
	s.move(id.NetID, target)
	return nil
}

func (s *Simulated) WanderArea(_ context.Context, id core.Identity, req core.WanderAreaRequest) error {
	if err := s.record(id, skillWander, req); err != nil {
		return err
	}
	a := s.angle()
	s.move(id.NetID, core.Vec3{
		X: req.X + math.Cos(a)*req.Radius,
		Y: req.Y + math.Sin(a)*req.Radius,
		Z: req.Z,
	})
	return nil
}

func (s *Simulated) EnterVehicle(_ context.Context, id core.Identity, req core.EnterVehicleRequest) error {
	if err := s.record(id, skillEnterVeh, req); err != nil {
		return err
	}
	pos, ok := s.world.Position(req.VehicleNetID)
	if !ok {
		return errors.Newf(errors.CodeNotFound, "vehicle netId '%d' not found", req.VehicleNetID)
	}
	s.mu.Lock()
	s.occupied[id.NetID] = req.VehicleNetID
	s.mu.Unlock()
	s.world.SetPosition(id.NetID, pos)
	s.world.Set(id.NetID, PredInVehicle, true)
	return nil
}

func (s *Simulated) LeaveVehicle(_ context.Context, id core.Identity, req core.LeaveVehicleRequest) error {
	if err := s.record(id, skillLeaveVeh, req); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.occupied, id.NetID)
	s.mu.Unlock()
	s.world.Set(id.NetID, PredInVehicle, false)
	return nil
}

func (s *Simulated) DriveTo(_ context.Context, id core.Identity, req core.DriveToRequest) error {
	if err := s.record(id, skillDriveTo, req); err != nil {
		return err
	}
	if _, ok := s.vehicleOf(id.NetID); !ok {
		return errors.Newf(errors.CodeSkillFailure, "npc '%s' is not in a vehicle", id.ID)
	}
	s.move(id.NetID, core.Vec3{X: req.X, Y: req.Y, Z: req.Z})
	return nil
}

func (s *Simulated) ParkVehicle(_ context.Context, id core.Identity, req core.ParkVehicleRequest) error {
	if err := s.record(id, skillParkVeh, req); err != nil {
		return err
	}
	if _, ok := s.vehicleOf(id.NetID); !ok {
		return errors.Newf(errors.CodeSkillFailure, "npc '%s' is not in a vehicle", id.ID)
	}
	return nil
}

func (s *Simulated) IsWaitSatisfied(id core.Identity, key string, state core.StateReader) bool {
	return s.world.evaluate(id, key, state, nil, time.Now())
}

func (s *Simulated) vehicleOf(netID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.occupied[netID]
	return v, ok
}

// move sets the agent position and drags its vehicle along.
func (s *Simulated) move(netID int64, pos core.Vec3) {
	s.world.SetPosition(netID, pos)
	if veh, ok := s.vehicleOf(netID); ok {
		s.world.SetPosition(veh, pos)
	}
}
