// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime drives engine ticks for registered agents on a fixed
// rate poll, pacing each agent by the scheduler.
package runtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/engine"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/scheduler"
	"github.com/jllopis/kairos-npc/pkg/telemetry"
)

// DefaultPoll is the fixed rate of the driving loop.
const DefaultPoll = 100 * time.Millisecond

// Ticker runs one step of an agent. *engine.Engine implements it.
type Ticker interface {
	Tick(ctx context.Context, a *engine.Agent)
}

// DistanceFunc returns the distance from a to its nearest observer, if
// known.
type DistanceFunc func(a *engine.Agent) (float64, bool)

// ObservedDistance reads the distance from the agent observation key,
// as reported by the host.
func ObservedDistance(key string) DistanceFunc {
	return func(a *engine.Agent) (float64, bool) {
		raw, ok := a.Observations()[key]
		if !ok {
			return 0, false
		}
		return core.AsFloat(raw)
	}
}

type registration struct {
	agent    *engine.Agent
	override time.Duration
	next     time.Time
}

// Service owns the agent registrations and the driving loop. At most one
// tick per agent is in flight; a due agent still ticking is skipped.
type Service struct {
	ticker    Ticker
	scheduler *scheduler.Scheduler
	poll      time.Duration
	distance  DistanceFunc
	now       func() time.Time
	logger    *slog.Logger
	metrics   *telemetry.RuntimeMetrics
	tracer    trace.Tracer

	mu      sync.Mutex
	regs    map[string]*registration
	busy    map[string]bool
	cancel  context.CancelFunc
	done    chan struct{}
	ticking sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithPoll sets the driving loop rate.
func WithPoll(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithDistance sets how observer distance is measured.
func WithDistance(fn DistanceFunc) Option {
	return func(s *Service) { s.distance = fn }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records skipped ticks.
func WithMetrics(m *telemetry.RuntimeMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a stopped service. A nil scheduler uses the default
// pacing.
func NewService(t Ticker, sched *scheduler.Scheduler, opts ...Option) *Service {
	if sched == nil {
		sched = scheduler.New(scheduler.Defaults{})
	}
	s := &Service{
		ticker:    t,
		scheduler: sched,
		poll:      DefaultPoll,
		now:       time.Now,
		logger:    slog.Default(),
		tracer:    otel.Tracer("kairos-npc/runtime"),
		regs:      make(map[string]*registration),
		busy:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register schedules a for an immediate first tick. A positive override
// replaces the distance based interval. Registering the same id again
// replaces the previous registration.
func (s *Service) Register(a *engine.Agent, override time.Duration) {
	s.mu.Lock()
	s.regs[a.Identity.ID] = &registration{agent: a, override: override, next: s.now()}
	s.mu.Unlock()
	s.logger.Debug("runtime.register", "agent_id", a.Identity.ID, "override", override)
}

// Unregister stops ticking agentID. An in-flight tick completes.
func (s *Service) Unregister(agentID string) bool {
	s.mu.Lock()
	_, ok := s.regs[agentID]
	delete(s.regs, agentID)
	s.mu.Unlock()
	return ok
}

// Registered returns the ids of the registered agents, sorted.
func (s *Service) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.regs))
	for id := range s.regs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Running reports whether the driving loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start launches the driving loop. It is an error to start twice.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New(errors.CodeInvalidInput, "runtime already started", nil)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
	s.logger.Info("runtime.start", "poll", s.poll, "agents", len(s.regs))
	return nil
}

// Stop halts the loop and waits for in-flight ticks until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	drained := make(chan struct{})
	go func() {
		s.ticking.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info("runtime.stop")
		return nil
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "runtime stop interrupted with ticks in flight", ctx.Err())
	}
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll starts a tick for every due agent that is not already ticking and
// returns how many were started. The loop calls it on every poll; tests
// call it directly.
func (s *Service) Poll(ctx context.Context) int {
	now := s.now()
	var due []*registration

	s.mu.Lock()
	for id, r := range s.regs {
		if now.Before(r.next) {
			continue
		}
		if s.busy[id] {
			s.metrics.RecordSkippedTick(ctx)
			s.logger.Debug("runtime.tick.skip", "agent_id", id)
			r.next = now.Add(s.interval(r))
			continue
		}
		s.busy[id] = true
		r.next = now.Add(s.interval(r))
		due = append(due, r)
	}
	s.ticking.Add(len(due))
	s.mu.Unlock()

	for _, r := range due {
		go s.run(ctx, r.agent)
	}
	return len(due)
}

// TickNow runs one tick of agentID synchronously. It returns false when
// the agent is unknown or already ticking.
func (s *Service) TickNow(ctx context.Context, agentID string) bool {
	s.mu.Lock()
	r, ok := s.regs[agentID]
	if !ok || s.busy[agentID] {
		s.mu.Unlock()
		return false
	}
	s.busy[agentID] = true
	s.ticking.Add(1)
	s.mu.Unlock()

	s.run(ctx, r.agent)
	return true
}

func (s *Service) run(ctx context.Context, a *engine.Agent) {
	id := a.Identity.ID
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("runtime.tick.panic", "agent_id", id, "panic", r)
		}
		s.mu.Lock()
		delete(s.busy, id)
		s.mu.Unlock()
		s.ticking.Done()
	}()

	ctx, span := s.tracer.Start(ctx, "runtime.tick", trace.WithAttributes(
		attribute.String(telemetry.AttrAgentID, id),
	))
	defer span.End()
	s.ticker.Tick(ctx, a)
}

// interval is called with s.mu held.
func (s *Service) interval(r *registration) time.Duration {
	if r.override > 0 {
		return r.override
	}
	if s.distance != nil {
		if d, ok := s.distance(r.agent); ok {
			return s.scheduler.TickInterval(&d)
		}
	}
	return s.scheduler.TickInterval(nil)
}
