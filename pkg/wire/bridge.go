// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/resilience"
	"github.com/jllopis/kairos-npc/pkg/telemetry"
)

// DefaultBridgeTimeout bounds ExecuteSkill when no timeout is given.
const DefaultBridgeTimeout = 5 * time.Second

// ExecuteRequest is what the delegating transport asks an executor to run.
type ExecuteRequest struct {
	NetID int64
	Skill string
	Args  any
}

// Bridge executes delegated skills through a Caller and validates the
// integrity of each reply.
type Bridge struct {
	caller  Caller
	tracer  trace.Tracer
	newID   func() string
	timeout time.Duration
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeTimeout replaces DefaultBridgeTimeout for calls made without
// an explicit timeout.
func WithBridgeTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBridge creates a bridge over caller.
func NewBridge(caller Caller, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		caller:  caller,
		tracer:  otel.Tracer("kairos-npc/wire"),
		newID:   newCallID,
		timeout: DefaultBridgeTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func newCallID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// ExecuteSkill runs req on executor and returns the remote data.
func (b *Bridge) ExecuteSkill(ctx context.Context, executor string, req ExecuteRequest, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = b.timeout
	}
	callID := b.newID()
	ctx, span := b.tracer.Start(ctx, "wire.execute_skill",
		trace.WithAttributes(telemetry.WireAttributes(ExecuteSkillRPC, callID, executor)...))
	defer span.End()

	msg := ExecuteSkillMsg{CallID: callID, NetID: req.NetID, Skill: req.Skill, Args: req.Args}
	raw, err := resilience.WithTimeoutResult(ctx, timeout, func(ctx context.Context) (any, error) {
		return b.caller.Call(ctx, ExecuteSkillRPC, executor, msg)
	})
	if err != nil {
		if errors.Is(err, errors.CodeTimeout) {
			err = errors.New(errors.CodeTimeout, "npc wire timeout", err).WithRecoverable(true)
		}
		return nil, fail(span, err)
	}

	res, ok := asResult(raw)
	if !ok {
		return nil, fail(span, errors.New(errors.CodeCorrelation, "npc wire invalid result", nil))
	}
	if res.CallID != callID {
		return nil, fail(span, errors.New(errors.CodeCorrelation, "npc wire callId mismatch", nil).
			WithContext("expected", callID).
			WithContext("got", res.CallID))
	}
	if !res.OK {
		msg := res.Error
		if msg == "" {
			msg = "npc wire execution failed"
		}
		return nil, fail(span, errors.New(errors.CodeSkillFailure, msg, nil))
	}
	return res.Data, nil
}

func asResult(v any) (SkillResultMsg, bool) {
	switch r := v.(type) {
	case SkillResultMsg:
		return r, true
	case *SkillResultMsg:
		if r != nil {
			return *r, true
		}
	}
	return SkillResultMsg{}, false
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
