// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type (
	agentKey      struct{}
	controllerKey struct{}
)

// level backs the global logger so the config watcher can change it at
// runtime.
var level = new(slog.LevelVar)

// WithAgent tags ctx so every record logged through it carries agent_id.
func WithAgent(ctx context.Context, agentID string) context.Context {
	if agentID == "" {
		return ctx
	}
	return context.WithValue(ctx, agentKey{}, agentID)
}

// AgentFromContext returns the agent id set by WithAgent.
func AgentFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(agentKey{}).(string)
	return id, ok
}

// WithController tags ctx with the controller group driving the agent.
func WithController(ctx context.Context, controllerID string) context.Context {
	if controllerID == "" {
		return ctx
	}
	return context.WithValue(ctx, controllerKey{}, controllerID)
}

// ConfigureSlog sets the global slog logger with trace and agent aware
// attributes. Its level follows SetLogLevel.
func ConfigureSlog(output io.Writer, lvl, format string) *slog.Logger {
	level.Set(ParseLogLevel(lvl))
	logger := slog.New(newSlogHandler(output, level, format))
	slog.SetDefault(logger)
	return logger
}

// SetLogLevel changes the level of the logger built by ConfigureSlog.
func SetLogLevel(lvl string) {
	level.Set(ParseLogLevel(lvl))
}

// NewLogger builds a logger with a fixed level without touching the
// global default.
func NewLogger(output io.Writer, lvl, format string) *slog.Logger {
	return slog.New(newSlogHandler(output, ParseLogLevel(lvl), format))
}

func newSlogHandler(output io.Writer, lvl slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: lvl}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return &contextHandler{next: base}
}

// contextHandler enriches records with values carried on the context.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if agentID, ok := AgentFromContext(ctx); ok && !recordHasAttr(record, "agent_id") {
		record.AddAttrs(slog.String("agent_id", agentID))
	}
	if group, ok := ctx.Value(controllerKey{}).(string); ok && !recordHasAttr(record, "controller_id") {
		record.AddAttrs(slog.String("controller_id", group))
	}
	traceID, spanID := spanIDsFromContext(ctx)
	if traceID != "" && !recordHasAttr(record, "trace_id") {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	if spanID != "" && !recordHasAttr(record, "span_id") {
		record.AddAttrs(slog.String("span_id", spanID))
	}
	return h.next.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

// ParseLogLevel maps a config string to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func spanIDsFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

func recordHasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
