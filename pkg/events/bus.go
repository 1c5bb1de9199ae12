// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package events provides the domain event bus, the engine hook bus and
// the event journal.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jllopis/kairos-npc/pkg/core"
)

// Envelope is one emitted domain event.
type Envelope struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	AgentID string          `json:"npcId"`
	Payload any             `json:"payload"`
	Scope   core.EventScope `json:"scope"`
	Radius  float64         `json:"radius,omitempty"`
	TS      time.Time       `json:"ts"`
}

// Handler receives envelopes. Returned errors are logged and ignored.
type Handler func(ctx context.Context, env Envelope) error

// Forwarder delivers envelopes whose scope reaches beyond the server.
type Forwarder interface {
	Forward(ctx context.Context, env Envelope) error
}

type subscription[H any] struct {
	id      uint64
	handler H
}

// registry is the subscribe/unsubscribe table shared by both buses.
type registry[K comparable, H any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[K][]subscription[H]
}

func newRegistry[K comparable, H any]() *registry[K, H] {
	return &registry[K, H]{subs: make(map[K][]subscription[H])}
}

func (r *registry[K, H]) add(key K, h H) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[key] = append(r.subs[key], subscription[H]{id: id, handler: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			list := r.subs[key]
			for i, s := range list {
				if s.id == id {
					r.subs[key] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *registry[K, H]) snapshot(key K) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.subs[key]
	out := make([]H, len(list))
	for i, s := range list {
		out[i] = s.handler
	}
	return out
}

// Option configures a bus.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	forwarder      Forwarder
	forwardTimeout time.Duration
	sync           bool
	now            func() time.Time
}

// DefaultForwardTimeout bounds one forwarded envelope.
const DefaultForwardTimeout = 2 * time.Second

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithForwarder sets the delivery path for non server scopes.
func WithForwarder(f Forwarder) Option {
	return func(o *options) { o.forwarder = f }
}

// WithForwardTimeout overrides DefaultForwardTimeout.
func WithForwardTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.forwardTimeout = d
		}
	}
}

// WithSynchronousDelivery runs handlers and the forwarder inline in Emit.
// Tests use it to observe events without waiting.
func WithSynchronousDelivery() Option {
	return func(o *options) { o.sync = true }
}

// WithClock injects the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), now: time.Now, forwardTimeout: DefaultForwardTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

const anyEvent = "*"

// EventBus is the domain event bus. Handlers and the forwarder run in
// their own goroutine unless synchronous delivery is enabled; a failing
// handler never affects the emitter.
type EventBus struct {
	opts options
	subs *registry[string, Handler]
}

// NewEventBus creates an event bus.
func NewEventBus(opts ...Option) *EventBus {
	return &EventBus{opts: buildOptions(opts), subs: newRegistry[string, Handler]()}
}

// Subscribe registers h for name and returns its unsubscribe function.
func (b *EventBus) Subscribe(name string, h Handler) func() {
	return b.subs.add(name, h)
}

// SubscribeAll registers h for every event name.
func (b *EventBus) SubscribeAll(h Handler) func() {
	return b.subs.add(anyEvent, h)
}

// Emit builds an envelope, delivers it to local handlers and forwards it
// when its scope is not server only.
func (b *EventBus) Emit(name, agentID string, payload any, opts core.EmitOptions) Envelope {
	scope := opts.Scope
	if scope == "" {
		scope = core.ScopeServer
	}
	env := Envelope{
		ID:      ulid.Make().String(),
		Name:    name,
		AgentID: agentID,
		Payload: payload,
		Scope:   scope,
		Radius:  opts.Radius,
		TS:      b.opts.now().UTC(),
	}

	handlers := append(b.subs.snapshot(name), b.subs.snapshot(anyEvent)...)
	for _, h := range handlers {
		b.dispatch(h, env)
	}

	if scope != core.ScopeServer && b.opts.forwarder != nil {
		if b.opts.sync {
			b.forward(env)
		} else {
			go b.forward(env)
		}
	}
	return env
}

// forward hands env to the forwarder under the forward timeout. Emitters
// run inside agent ticks and must never wait on a slow peer.
func (b *EventBus) forward(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.forwardTimeout)
	defer cancel()
	if err := b.opts.forwarder.Forward(ctx, env); err != nil {
		b.opts.logger.Debug("events.forward.error", "event", env.Name, "agent_id", env.AgentID, "error", err)
	}
}

func (b *EventBus) dispatch(h Handler, env Envelope) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				b.opts.logger.Warn("events.handler.panic", "event", env.Name, "panic", r)
			}
		}()
		if err := h(context.Background(), env); err != nil {
			b.opts.logger.Debug("events.handler.error", "event", env.Name, "error", err)
		}
	}
	if b.opts.sync {
		run()
		return
	}
	go run()
}

// ForAgent returns an emitter bound to agentID.
func (b *EventBus) ForAgent(agentID string) core.AgentEmitter {
	return agentEmitter{bus: b, agentID: agentID}
}

type agentEmitter struct {
	bus     *EventBus
	agentID string
}

func (e agentEmitter) Emit(name string, payload any, opts core.EmitOptions) {
	e.bus.Emit(name, e.agentID, payload, opts)
}
