// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"time"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/skills"
)

// Movement defaults.
const (
	DefaultWalkSpeed    = 1.5
	DefaultApproachStop = 2.0
	DefaultApproachPace = 1.8
	DefaultWanderRadius = 25.0
	WanderPause         = 750 * time.Millisecond
)

// typed asserts validated args, failing with an invalid input result.
func typed[T any](args any) (T, core.Result, bool) {
	v, err := decodeArgs[T](args)
	if err != nil {
		return v, core.Fail(err), false
	}
	return v, core.Result{}, true
}

func moveToSkill() *skills.Func {
	return skills.NewFunc(meta(MoveTo, "Walk to a world position.", TagMovement),
		func(ctx context.Context, sc *core.SkillContext, args any) core.Result {
			req, res, ok := typed[core.MoveToRequest](args)
			if !ok {
				return res
			}
			emitState(sc, 120, map[string]any{"state": "moving_to"})
			if res, ok := call(ctx, sc, func(ctx context.Context, t core.Transport) error {
				return t.MoveTo(ctx, sc.Identity, req)
			}); !ok {
				return res
			}
			return core.Ok(nil).Then(core.Replan("moved"))
		}).WithValidator(validateMoveTo)
}

func validateMoveTo(input any) (any, error) {
	in, err := decodeArgs[struct {
		pointArgs
		Speed *float64 `json:"speed"`
	}](input)
	if err != nil {
		return nil, err
	}
	if err := in.check(); err != nil {
		return nil, err
	}
	p := in.vec()
	return core.MoveToRequest{X: p.X, Y: p.Y, Z: p.Z, Speed: or(in.Speed, DefaultWalkSpeed)}, nil
}

func goToEntitySkill() *skills.Func {
	return skills.NewFunc(meta(GoToEntity, "Approach another entity by handle or net id.", TagMovement),
		func(ctx context.Context, sc *core.SkillContext, args any) core.Result {
			req, res, ok := typed[core.GoToEntityRequest](args)
			if !ok {
				return res
			}
			emitState(sc, 120, map[string]any{"state": "going_to_entity"})
			if res, ok := call(ctx, sc, func(ctx context.Context, t core.Transport) error {
				return t.GoToEntity(ctx, sc.Identity, req)
			}); !ok {
				return res
			}
			return core.Ok(nil).Then(core.Replan("reached entity"))
		}).WithValidator(validateGoToEntity)
}

func validateGoToEntity(input any) (any, error) {
	in, err := decodeArgs[struct {
		Entity       *int64   `json:"entity"`
		StopDistance *float64 `json:"stopDistance"`
		Speed        *float64 `json:"speed"`
	}](input)
	if err != nil {
		return nil, err
	}
	if err := required(map[string]bool{"entity": in.Entity == nil}); err != nil {
		return nil, err
	}
	return core.GoToEntityRequest{
		Entity:       *in.Entity,
		StopDistance: or(in.StopDistance, DefaultApproachStop),
		Speed:        or(in.Speed, DefaultApproachPace),
	}, nil
}

func wanderAreaSkill() *skills.Func {
	return skills.NewFunc(meta(WanderArea, "Wander around an anchor point.", TagMovement),
		func(ctx context.Context, sc *core.SkillContext, args any) core.Result {
			req, res, ok := typed[core.WanderAreaRequest](args)
			if !ok {
				return res
			}
			emitState(sc, 80, map[string]any{"state": "wandering"})
			if res, ok := call(ctx, sc, func(ctx context.Context, t core.Transport) error {
				return t.WanderArea(ctx, sc.Identity, req)
			}); !ok {
				return res
			}
			return core.Ok(nil).WithWait(core.WaitFor(WanderPause)).Then(core.Replan("wander step"))
		}).WithValidator(validateWanderArea)
}

func validateWanderArea(input any) (any, error) {
	in, err := decodeArgs[struct {
		pointArgs
		Radius *float64 `json:"radius"`
	}](input)
	if err != nil {
		return nil, err
	}
	if err := in.check(); err != nil {
		return nil, err
	}
	radius := or(in.Radius, DefaultWanderRadius)
	if radius < 0 {
		return nil, errors.New(errors.CodeInvalidInput, "radius: must not be negative", nil)
	}
	p := in.vec()
	return core.WanderAreaRequest{X: p.X, Y: p.Y, Z: p.Z, Radius: radius}, nil
}
