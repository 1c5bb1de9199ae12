// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
)

// Distance thresholds of the built-in predicates.
const (
	NearVehicleRange     = 3.0
	NearDestinationRange = 8.0
	planMatchRange       = 12.0
)

// Predicates stores what executors report about the world: per entity
// boolean predicates and positions, keyed by net id.
type Predicates struct {
	mu        sync.RWMutex
	flags     map[int64]map[string]bool
	positions map[int64]core.Vec3
}

// NewPredicates returns an empty store.
func NewPredicates() *Predicates {
	return &Predicates{
		flags:     make(map[int64]map[string]bool),
		positions: make(map[int64]core.Vec3),
	}
}

// Set records a predicate value for netID.
func (p *Predicates) Set(netID int64, key string, value bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.flags[netID]
	if !ok {
		m = make(map[string]bool)
		p.flags[netID] = m
	}
	m[key] = value
}

// Get returns a reported predicate value.
func (p *Predicates) Get(netID int64, key string) (bool, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.flags[netID][key]
	return v, ok
}

// SetPosition records the world position of an entity.
func (p *Predicates) SetPosition(netID int64, pos core.Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[netID] = pos
}

// Position returns the last reported position of an entity.
func (p *Predicates) Position(netID int64) (core.Vec3, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[netID]
	return pos, ok
}

// Forget drops everything known about netID.
func (p *Predicates) Forget(netID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.flags, netID)
	delete(p.positions, netID)
}

// drivePlan is the optimistic arrival estimate recorded after a
// delegated driveTo.
type drivePlan struct {
	target    core.Vec3
	satisfyAt time.Time
}

// evaluate answers a wait predicate for the agent id from reported
// values. plan may be nil.
func (p *Predicates) evaluate(id core.Identity, key string, state core.StateReader, plan *drivePlan, now time.Time) bool {
	if p == nil || id.NetID == 0 {
		return false
	}
	switch key {
	case PredInVehicle:
		v, _ := p.Get(id.NetID, PredInVehicle)
		return v
	case PredNotInVehicle:
		if v, ok := p.Get(id.NetID, PredNotInVehicle); ok {
			return v
		}
		if v, ok := p.Get(id.NetID, PredInVehicle); ok {
			return !v
		}
		_, known := p.Position(id.NetID)
		return known
	case PredNearVehicle:
		raw, ok := lookup(state, core.KeyTargetVehicle)
		if !ok {
			return false
		}
		vehID, ok := core.AsFloat(raw)
		if !ok || vehID == 0 {
			return false
		}
		agent, okA := p.Position(id.NetID)
		vehicle, okV := p.Position(int64(vehID))
		return okA && okV && agent.Distance(vehicle) <= NearVehicleRange
	case PredNearDestination:
		raw, ok := lookup(state, core.KeyTargetDestination)
		if !ok {
			return false
		}
		target, ok := core.AsVec3(raw)
		if !ok {
			return false
		}
		if agent, ok := p.Position(id.NetID); ok && agent.Distance(target) <= NearDestinationRange {
			return true
		}
		if plan == nil || target.Distance(plan.target) > planMatchRange {
			return false
		}
		return !now.Before(plan.satisfyAt)
	default:
		v, _ := p.Get(id.NetID, key)
		return v
	}
}

func lookup(state core.StateReader, key string) (any, bool) {
	if state == nil {
		return nil, false
	}
	return state.Get(key)
}
