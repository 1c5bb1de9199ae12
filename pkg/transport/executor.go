// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/wire"
)

// Executor serves delegated primitives from the executor side of the wire
// by running them on a local transport, usually a Simulated one.
type Executor struct {
	local core.Transport
	after func(ctx context.Context, netID int64, skill string)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// AfterExecute is called after every successful primitive. Executors use
// it to report positions and predicates back to the server.
func AfterExecute(fn func(ctx context.Context, netID int64, skill string)) ExecutorOption {
	return func(e *Executor) { e.after = fn }
}

// NewExecutor creates an executor over local.
func NewExecutor(local core.Transport, opts ...ExecutorOption) *Executor {
	e := &Executor{local: local}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ wire.Executor = (*Executor)(nil)

// Execute implements wire.Executor.
func (e *Executor) Execute(ctx context.Context, msg wire.ExecuteSkillMsg) (any, error) {
	if msg.NetID <= 0 {
		return nil, errors.Newf(errors.CodeInvalidInput, "execute '%s' without a net id", msg.Skill)
	}
	id := core.Identity{ID: fmt.Sprintf("net:%d", msg.NetID), NetID: msg.NetID}

	var err error
	switch msg.Skill {
	case skillMoveTo:
		err = dispatch(ctx, msg.Args, id, e.local.MoveTo)
	case skillGoToEnt:
		err = dispatch(ctx, msg.Args, id, e.local.GoToEntity)
	case skillWander:
		err = dispatch(ctx, msg.Args, id, e.local.WanderArea)
	case skillEnterVeh:
		err = dispatch(ctx, msg.Args, id, e.local.EnterVehicle)
	case skillLeaveVeh:
		err = dispatch(ctx, msg.Args, id, e.local.LeaveVehicle)
	case skillDriveTo:
		err = dispatch(ctx, msg.Args, id, e.local.DriveTo)
	case skillParkVeh:
		err = dispatch(ctx, msg.Args, id, e.local.ParkVehicle)
	default:
		return nil, errors.Newf(errors.CodeNotFound, "executor has no primitive '%s'", msg.Skill)
	}
	if err != nil {
		return nil, err
	}
	if e.after != nil {
		e.after(ctx, msg.NetID, msg.Skill)
	}
	return map[string]any{"skill": msg.Skill}, nil
}

// dispatch decodes the generic wire args into the request type of fn.
func dispatch[T any](ctx context.Context, args any, id core.Identity, fn func(context.Context, core.Identity, T) error) error {
	var req T
	if typed, ok := args.(T); ok {
		req = typed
	} else if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return errors.New(errors.CodeInvalidInput, "encode args", err)
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return errors.New(errors.CodeInvalidInput, "decode args", err)
		}
	}
	return fn(ctx, id, req)
}
