// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"log/slog"
	"time"

	"github.com/jllopis/kairos-npc/pkg/config"
	"github.com/jllopis/kairos-npc/pkg/telemetry"
)

// Penalties are the cooldowns applied after terminal failures when the
// result does not carry its own.
type Penalties struct {
	Connectivity time.Duration
	InvalidArgs  time.Duration
	Default      time.Duration
}

// DefaultPenalties escalate by failure category.
var DefaultPenalties = Penalties{
	Connectivity: 60 * time.Second,
	InvalidArgs:  10 * time.Second,
	Default:      3 * time.Second,
}

// Default notice suppression windows.
const (
	DefaultReportWindow     = 5 * time.Second
	DefaultAllCoolingWindow = 10 * time.Second
	// DefaultUntilTimeout applies to predicate waits without a timeout.
	DefaultUntilTimeout = 10 * time.Second
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCooldownReports toggles the rate limited cooldown notices.
func WithCooldownReports(enabled bool) Option {
	return func(e *Engine) { e.reportCooldowns = enabled }
}

// WithReportWindows overrides the suppression windows of cooldown notices
// for a single skill and for the all-skills notice.
func WithReportWindows(skill, all time.Duration) Option {
	return func(e *Engine) {
		if skill > 0 {
			e.reportWindow = skill
		}
		if all > 0 {
			e.allCoolingWindow = all
		}
	}
}

// WithPenalties overrides the category penalties. Zero fields keep
// their defaults.
func WithPenalties(p Penalties) Option {
	return func(e *Engine) {
		if p.Connectivity > 0 {
			e.penalties.Connectivity = p.Connectivity
		}
		if p.InvalidArgs > 0 {
			e.penalties.InvalidArgs = p.InvalidArgs
		}
		if p.Default > 0 {
			e.penalties.Default = p.Default
		}
	}
}

// WithSnapshot overrides the snapshot bounds.
func WithSnapshot(opts SnapshotOptions) Option {
	return func(e *Engine) { e.snapshot = opts }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records tick and skill metrics.
func WithMetrics(m *telemetry.RuntimeMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// OptionsFromConfig maps the engine config section to options.
func OptionsFromConfig(cfg config.EngineConfig) []Option {
	return []Option{
		WithCooldownReports(cfg.CooldownReports),
		WithReportWindows(cfg.ReportWindow, cfg.AllCoolingWindow),
		WithPenalties(Penalties{
			Connectivity: cfg.ConnectivityPenalty,
			InvalidArgs:  cfg.InvalidArgsPenalty,
			Default:      cfg.DefaultPenalty,
		}),
		WithSnapshot(SnapshotOptions{MaxItems: cfg.SnapshotMaxItems, Round: cfg.SnapshotRoundDecimal}),
	}
}
