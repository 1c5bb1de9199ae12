// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/kairos-npc/pkg/errors"
)

// RuntimeMetrics groups the OTel instruments recorded by the tick loop,
// the engine, the remote planner and the wire layer.
// A nil *RuntimeMetrics is valid and records nothing.
type RuntimeMetrics struct {
	ticks            metric.Int64Counter
	skippedTicks     metric.Int64Counter
	tickLatency      metric.Float64Histogram
	skillResults     metric.Int64Counter
	rejections       metric.Int64Counter
	plannerFallbacks metric.Int64Counter
	wireFailovers    metric.Int64Counter
	errorsTotal      metric.Int64Counter
}

// NewRuntimeMetrics creates the instruments on the global meter provider.
func NewRuntimeMetrics() (*RuntimeMetrics, error) {
	meter := otel.Meter("kairos-npc/runtime")
	m := &RuntimeMetrics{}
	var err error

	if m.ticks, err = meter.Int64Counter("npc.ticks.total",
		metric.WithDescription("Engine ticks executed")); err != nil {
		return nil, err
	}
	if m.skippedTicks, err = meter.Int64Counter("npc.ticks.skipped",
		metric.WithDescription("Ticks skipped because the agent was still busy")); err != nil {
		return nil, err
	}
	if m.tickLatency, err = meter.Float64Histogram("npc.tick.duration_ms",
		metric.WithDescription("Engine tick latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.skillResults, err = meter.Int64Counter("npc.skill.results",
		metric.WithDescription("Skill executions by key and outcome")); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter("npc.decision.rejections",
		metric.WithDescription("Decisions rejected before execution")); err != nil {
		return nil, err
	}
	if m.plannerFallbacks, err = meter.Int64Counter("npc.planner.fallbacks",
		metric.WithDescription("Remote planner decisions served by the fallback planner")); err != nil {
		return nil, err
	}
	if m.wireFailovers, err = meter.Int64Counter("npc.wire.failovers",
		metric.WithDescription("Remote calls retried on the secondary caller")); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter("npc.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTick records one completed tick and its latency.
func (m *RuntimeMetrics) RecordTick(ctx context.Context, controllerID string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("controller", controllerID))
	m.ticks.Add(ctx, 1, attrs)
	m.tickLatency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordSkippedTick records a tick that found its agent busy.
func (m *RuntimeMetrics) RecordSkippedTick(ctx context.Context) {
	if m == nil {
		return
	}
	m.skippedTicks.Add(ctx, 1)
}

// RecordSkillResult counts one skill execution. Outcome is one of
// "done", "wait", "run", "continue", "failed".
func (m *RuntimeMetrics) RecordSkillResult(ctx context.Context, skill, outcome string) {
	if m == nil {
		return
	}
	m.skillResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("skill", skill),
		attribute.String("outcome", outcome),
	))
}

// RecordRejection counts a decision rejected for the given category
// ("policy", "cooldown", "invalid_args", "missing_skill").
func (m *RuntimeMetrics) RecordRejection(ctx context.Context, skill, category string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("skill", skill),
		attribute.String("category", category),
	))
}

// RecordPlannerFallback counts a remote planner delegation to its fallback.
func (m *RuntimeMetrics) RecordPlannerFallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.plannerFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordWireFailover counts a primary caller failure retried on the secondary.
func (m *RuntimeMetrics) RecordWireFailover(ctx context.Context, rpc string) {
	if m == nil {
		return
	}
	m.wireFailovers.Add(ctx, 1, metric.WithAttributes(attribute.String("rpc", rpc)))
}

// RecordError increments the error counter using the typed error code when present.
func (m *RuntimeMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	if te := errors.As(err); te != nil && te.Code != errors.CodeInternal {
		code = string(te.Code)
		recoverable = te.RecoverableString()
	}
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", code),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}
