// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/kairos-npc/pkg/errors"
)

// DefaultFallbackTimeout bounds a net fallback call.
const DefaultFallbackTimeout = 7 * time.Second

// Emitter pushes a request envelope to one executor.
type Emitter interface {
	Emit(ctx context.Context, target string, msg ExecuteSkillMsg) error
}

// NetFallback is a Caller over a fire-and-forget channel. Results come
// back through Deliver and are matched by call id.
type NetFallback struct {
	emitter Emitter
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]chan SkillResultMsg
}

// FallbackOption configures a NetFallback.
type FallbackOption func(*NetFallback)

// WithFallbackTimeout overrides the per call deadline.
func WithFallbackTimeout(d time.Duration) FallbackOption {
	return func(f *NetFallback) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithFallbackLogger sets the logger.
func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(f *NetFallback) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewNetFallback creates a net fallback caller over emitter.
func NewNetFallback(emitter Emitter, opts ...FallbackOption) *NetFallback {
	f := &NetFallback{
		emitter: emitter,
		timeout: DefaultFallbackTimeout,
		logger:  slog.Default(),
		pending: make(map[string]chan SkillResultMsg),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Call emits an ExecuteSkillMsg and waits for its result. It only
// supports ExecuteSkillRPC with (target string, msg ExecuteSkillMsg).
// The pending entry is removed on every exit path.
func (f *NetFallback) Call(ctx context.Context, name string, args ...any) (any, error) {
	target, msg, err := ExecuteArgs(name, args)
	if err != nil {
		return nil, err
	}

	ch := make(chan SkillResultMsg, 1)
	f.mu.Lock()
	if _, dup := f.pending[msg.CallID]; dup {
		f.mu.Unlock()
		return nil, errors.Newf(errors.CodeCorrelation, "npc net wire call %s already pending", msg.CallID)
	}
	f.pending[msg.CallID] = ch
	f.mu.Unlock()

	f.logger.DebugContext(ctx, "wire.send", "call_id", msg.CallID, "target", target, "skill", msg.Skill)
	if err := f.emitter.Emit(ctx, target, msg); err != nil {
		f.remove(msg.CallID)
		return nil, errors.New(errors.CodeConnectivity, "npc net wire emit failed", err).WithRecoverable(true)
	}

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-timer.C:
		f.remove(msg.CallID)
		f.logger.DebugContext(ctx, "wire.timeout", "call_id", msg.CallID, "target", target, "skill", msg.Skill)
		return nil, errors.New(errors.CodeTimeout, "npc net wire fallback timeout", nil).
			WithContext("call_id", msg.CallID).
			WithRecoverable(true)
	case <-ctx.Done():
		f.remove(msg.CallID)
		return nil, errors.New(errors.CodeTimeout, "npc net wire fallback canceled", ctx.Err())
	}
}

// Deliver resolves the pending call matching res. Unknown call ids are
// logged and dropped; it reports whether res was accepted.
func (f *NetFallback) Deliver(res SkillResultMsg) bool {
	f.mu.Lock()
	ch, ok := f.pending[res.CallID]
	if ok {
		delete(f.pending, res.CallID)
	}
	f.mu.Unlock()

	if !ok {
		f.logger.Debug("wire.orphan_result", "call_id", res.CallID)
		return false
	}
	ch <- res
	f.logger.Debug("wire.result", "call_id", res.CallID, "ok", res.OK)
	return true
}

// Pending returns the number of outstanding calls.
func (f *NetFallback) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *NetFallback) remove(callID string) {
	f.mu.Lock()
	delete(f.pending, callID)
	f.mu.Unlock()
}
