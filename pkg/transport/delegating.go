// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/wire"
)

// DefaultDelegateTimeout bounds one delegated primitive.
const DefaultDelegateTimeout = 4500 * time.Millisecond

const (
	minDriveSpeed = 5.0
	minTravel     = 4 * time.Second
	maxTravel     = 60 * time.Second
	driveSettle   = 3 * time.Second
	skillMoveTo   = "moveTo"
	skillGoToEnt  = "goToEntity"
	skillWander   = "wanderArea"
	skillEnterVeh = "enterVehicle"
	skillLeaveVeh = "leaveVehicle"
	skillDriveTo  = "driveTo"
	skillParkVeh  = "parkVehicle"
)

// Bridge executes one delegated skill on an executor.
type Bridge interface {
	ExecuteSkill(ctx context.Context, executor string, req wire.ExecuteRequest, timeout time.Duration) (any, error)
}

// ExecutorChooser picks the executor responsible for an agent.
type ExecutorChooser func(id core.Identity) (string, bool)

// NetIDResolver looks up the network id of an agent spawned without one.
type NetIDResolver func(id core.Identity) (int64, bool)

// Delegating runs every primitive on a connected executor. When
// delegation is impossible it falls back to the local transport, if one
// is configured, and fails with a connectivity error otherwise.
type Delegating struct {
	bridge     Bridge
	choose     ExecutorChooser
	local      core.Transport
	predicates *Predicates
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	resolve    NetIDResolver

	mu     sync.Mutex
	plans  map[string]drivePlan
	netIDs map[string]int64
}

// DelegatingOption configures a Delegating transport.
type DelegatingOption func(*Delegating)

// WithLocal sets the transport used when delegation is impossible.
func WithLocal(t core.Transport) DelegatingOption {
	return func(d *Delegating) { d.local = t }
}

// WithPredicates sets the store answering wait predicates.
func WithPredicates(p *Predicates) DelegatingOption {
	return func(d *Delegating) {
		if p != nil {
			d.predicates = p
		}
	}
}

// WithDelegateTimeout overrides DefaultDelegateTimeout.
func WithDelegateTimeout(t time.Duration) DelegatingOption {
	return func(d *Delegating) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithClock injects the clock used for optimistic drive plans.
func WithClock(now func() time.Time) DelegatingOption {
	return func(d *Delegating) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DelegatingOption {
	return func(d *Delegating) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithNetIDResolver sets how a missing net id is looked up before a
// delegation is given up as missing_identifier. Resolved ids are cached
// per agent.
func WithNetIDResolver(fn NetIDResolver) DelegatingOption {
	return func(d *Delegating) { d.resolve = fn }
}

// NewDelegating creates a delegating transport. A nil bridge or chooser
// disables connected mode.
func NewDelegating(bridge Bridge, choose ExecutorChooser, opts ...DelegatingOption) *Delegating {
	d := &Delegating{
		bridge:     bridge,
		choose:     choose,
		predicates: NewPredicates(),
		timeout:    DefaultDelegateTimeout,
		now:        time.Now,
		logger:     slog.Default(),
		plans:      make(map[string]drivePlan),
		netIDs:     make(map[string]int64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Predicates returns the store fed by executors.
func (d *Delegating) Predicates() *Predicates { return d.predicates }

// identity fills id.NetID from the cache or the resolver when the
// caller does not carry one.
func (d *Delegating) identity(id core.Identity) core.Identity {
	if id.NetID > 0 {
		return id
	}
	d.mu.Lock()
	cached, ok := d.netIDs[id.ID]
	d.mu.Unlock()
	if ok {
		id.NetID = cached
		return id
	}
	if d.resolve == nil {
		return id
	}
	if netID, ok := d.resolve(id); ok && netID > 0 {
		d.mu.Lock()
		d.netIDs[id.ID] = netID
		d.mu.Unlock()
		id.NetID = netID
	}
	return id
}

// Forget drops the cached net id and drive plan of agentID.
func (d *Delegating) Forget(agentID string) {
	d.mu.Lock()
	delete(d.netIDs, agentID)
	delete(d.plans, agentID)
	d.mu.Unlock()
}

// delegate reports whether the primitive ran remotely. A false return
// with a nil error carries the reason delegation was impossible.
func (d *Delegating) delegate(ctx context.Context, id core.Identity, skill string, args any) (bool, string, error) {
	if d.bridge == nil || d.choose == nil {
		return false, ReasonConnectedDisabled, nil
	}
	executor, ok := d.choose(id)
	if !ok || executor == "" {
		d.logger.DebugContext(ctx, "transport.delegate.skip", "skill", skill, "agent_id", id.ID, "reason", ReasonNoExecutor)
		return false, ReasonNoExecutor, nil
	}
	if id = d.identity(id); id.NetID <= 0 {
		d.logger.DebugContext(ctx, "transport.delegate.skip", "skill", skill, "agent_id", id.ID, "reason", ReasonMissingIdentifier)
		return false, ReasonMissingIdentifier, nil
	}

	d.logger.DebugContext(ctx, "transport.delegate.send", "skill", skill, "agent_id", id.ID, "net_id", id.NetID, "executor", executor)
	if _, err := d.bridge.ExecuteSkill(ctx, executor, wire.ExecuteRequest{NetID: id.NetID, Skill: skill, Args: args}, d.timeout); err != nil {
		d.logger.WarnContext(ctx, "transport.delegate.error", "skill", skill, "agent_id", id.ID, "executor", executor, "error", err)
		return false, "", err
	}
	d.logger.DebugContext(ctx, "transport.delegate.ok", "skill", skill, "agent_id", id.ID, "executor", executor)
	return true, "", nil
}

// run delegates skill or falls back to local via the given closure.
func (d *Delegating) run(ctx context.Context, id core.Identity, skill string, args any, local func(core.Transport) error) error {
	ok, reason, err := d.delegate(ctx, id, skill, args)
	if err != nil || ok {
		return err
	}
	if d.local != nil {
		return local(d.local)
	}
	return delegationFailure(skill, reason)
}

func (d *Delegating) MoveTo(ctx context.Context, id core.Identity, req core.MoveToRequest) error {
	return d.run(ctx, id, skillMoveTo, req, func(t core.Transport) error { return t.MoveTo(ctx, id, req) })
}

func (d *Delegating) GoToEntity(ctx context.Context, id core.Identity, req core.GoToEntityRequest) error {
	return d.run(ctx, id, skillGoToEnt, req, func(t core.Transport) error { return t.GoToEntity(ctx, id, req) })
}

func (d *Delegating) WanderArea(ctx context.Context, id core.Identity, req core.WanderAreaRequest) error {
	return d.run(ctx, id, skillWander, req, func(t core.Transport) error { return t.WanderArea(ctx, id, req) })
}

func (d *Delegating) EnterVehicle(ctx context.Context, id core.Identity, req core.EnterVehicleRequest) error {
	return d.run(ctx, id, skillEnterVeh, req, func(t core.Transport) error { return t.EnterVehicle(ctx, id, req) })
}

func (d *Delegating) LeaveVehicle(ctx context.Context, id core.Identity, req core.LeaveVehicleRequest) error {
	return d.run(ctx, id, skillLeaveVeh, req, func(t core.Transport) error { return t.LeaveVehicle(ctx, id, req) })
}

// DriveTo records an optimistic arrival time after a delegated drive so
// nearDestination can be satisfied without position reports.
func (d *Delegating) DriveTo(ctx context.Context, id core.Identity, req core.DriveToRequest) error {
	ok, reason, err := d.delegate(ctx, id, skillDriveTo, req)
	if err != nil {
		return err
	}
	if ok {
		d.planArrival(d.identity(id), req)
		return nil
	}
	if d.local != nil {
		return d.local.DriveTo(ctx, id, req)
	}
	return delegationFailure(skillDriveTo, reason)
}

func (d *Delegating) ParkVehicle(ctx context.Context, id core.Identity, req core.ParkVehicleRequest) error {
	ok, reason, err := d.delegate(ctx, id, skillParkVeh, req)
	if err != nil {
		return err
	}
	if ok {
		d.mu.Lock()
		delete(d.plans, id.ID)
		d.mu.Unlock()
		return nil
	}
	if d.local != nil {
		return d.local.ParkVehicle(ctx, id, req)
	}
	return delegationFailure(skillParkVeh, reason)
}

// IsWaitSatisfied checks reported predicates, the optimistic drive plan
// and finally the local transport.
func (d *Delegating) IsWaitSatisfied(id core.Identity, key string, state core.StateReader) bool {
	id = d.identity(id)
	d.mu.Lock()
	plan, hasPlan := d.plans[id.ID]
	d.mu.Unlock()

	var p *drivePlan
	if hasPlan {
		p = &plan
	}
	if d.predicates.evaluate(id, key, state, p, d.now()) {
		return true
	}
	return d.local != nil && d.local.IsWaitSatisfied(id, key, state)
}

func (d *Delegating) planArrival(id core.Identity, req core.DriveToRequest) {
	target := core.Vec3{X: req.X, Y: req.Y, Z: req.Z}
	current, ok := d.predicates.Position(id.NetID)
	if !ok {
		current = target
	}
	speed := math.Max(minDriveSpeed, req.Speed)
	travel := time.Duration(current.Distance(target) / speed * float64(time.Second))
	travel = min(maxTravel, max(minTravel, travel))

	d.mu.Lock()
	d.plans[id.ID] = drivePlan{target: target, satisfyAt: d.now().Add(travel + driveSettle)}
	d.mu.Unlock()
}
