// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler computes tick intervals from the distance between an
// agent and its nearest observer.
package scheduler

import (
	"sync"
	"time"

	"github.com/jllopis/kairos-npc/pkg/config"
)

// Defaults are the pacing parameters.
type Defaults struct {
	Near       time.Duration
	Far        time.Duration
	NearRadius float64
}

// DefaultPacing ticks nearby agents every 350ms and the rest every 1.5s.
var DefaultPacing = Defaults{
	Near:       350 * time.Millisecond,
	Far:        1500 * time.Millisecond,
	NearRadius: 120,
}

// Scheduler is safe for concurrent use; defaults can be swapped while
// the runtime service is polling.
type Scheduler struct {
	mu       sync.RWMutex
	defaults Defaults
}

// New creates a scheduler. Zero fields fall back to DefaultPacing.
func New(d Defaults) *Scheduler {
	s := &Scheduler{}
	s.SetDefaults(d)
	return s
}

// FromConfig builds a scheduler from the scheduler config section.
func FromConfig(cfg config.SchedulerConfig) *Scheduler {
	return New(Defaults{Near: cfg.Near, Far: cfg.Far, NearRadius: cfg.NearRadius})
}

// SetDefaults replaces the pacing parameters.
func (s *Scheduler) SetDefaults(d Defaults) {
	if d.Near <= 0 {
		d.Near = DefaultPacing.Near
	}
	if d.Far <= 0 {
		d.Far = DefaultPacing.Far
	}
	if d.NearRadius <= 0 {
		d.NearRadius = DefaultPacing.NearRadius
	}
	s.mu.Lock()
	s.defaults = d
	s.mu.Unlock()
}

// Defaults returns the current pacing parameters.
func (s *Scheduler) Defaults() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// TickInterval returns the near interval when distance is known and
// within the near radius, the far interval otherwise.
func (s *Scheduler) TickInterval(distance *float64) time.Duration {
	d := s.Defaults()
	if distance != nil && *distance <= d.NearRadius {
		return d.Near
	}
	return d.Far
}
