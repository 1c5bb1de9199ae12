// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"time"
)

// Config sections as reported in Change.Sections.
const (
	SectionLog         = "log"
	SectionTelemetry   = "telemetry"
	SectionScheduler   = "scheduler"
	SectionEngine      = "engine"
	SectionPlanner     = "planner"
	SectionWire        = "wire"
	SectionJournal     = "journal"
	SectionHTTP        = "http"
	SectionControllers = "controllers"
)

// liveSections are applied by npcd without a restart.
var liveSections = map[string]bool{
	SectionLog:       true,
	SectionScheduler: true,
}

// Change describes a reload that altered at least one section.
type Change struct {
	Previous *Config
	Current  *Config
	Sections []string
}

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// RestartRequired lists the changed sections that only take effect on
// the next start.
func (c Change) RestartRequired() []string {
	var out []string
	for _, s := range c.Sections {
		if !liveSections[s] {
			out = append(out, s)
		}
	}
	return out
}

// Diff compares two configs section by section.
func Diff(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	pairs := []struct {
		name string
		a, b any
	}{
		{SectionLog, prev.Log, next.Log},
		{SectionTelemetry, prev.Telemetry, next.Telemetry},
		{SectionScheduler, prev.Scheduler, next.Scheduler},
		{SectionEngine, prev.Engine, next.Engine},
		{SectionPlanner, prev.Planner, next.Planner},
		{SectionWire, prev.Wire, next.Wire},
		{SectionJournal, prev.Journal, next.Journal},
		{SectionHTTP, prev.HTTP, next.HTTP},
		{SectionControllers, prev.Controllers, next.Controllers},
	}
	var changed []string
	for _, p := range pairs {
		if !reflect.DeepEqual(p.a, p.b) {
			changed = append(changed, p.name)
		}
	}
	return changed
}

type fileStamp struct {
	mod  time.Time
	size int64
}

// Watcher polls the config files and notifies listeners when a reload
// changes any section. Rewrites that leave the values untouched are
// ignored.
type Watcher struct {
	paths    []string
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	stamps    map[string]fileStamp
	config    *Config
	listeners []func(Change)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads paths once. A failed reload keeps the last good
// config.
func NewWatcher(paths []string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		paths:    paths,
		interval: time.Second,
		logger:   slog.Default(),
		stamps:   make(map[string]fileStamp),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.stamps = stampAll(paths)

	cfg, err := Load(paths...)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers fn for every effective change.
func (w *Watcher) OnChange(fn func(Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start polls in a goroutine until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops polling and waits for the goroutine. Call it only after
// Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.touched() {
				w.Reload()
			}
		}
	}
}

func (w *Watcher) touched() bool {
	next := stampAll(w.paths)
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := len(next) != len(w.stamps)
	for path, st := range next {
		if prev, ok := w.stamps[path]; !ok || prev != st {
			changed = true
		}
	}
	w.stamps = next
	return changed
}

// Reload reads the files now and notifies listeners when a section
// changed. It reports the change, if any.
func (w *Watcher) Reload() (Change, bool) {
	cfg, err := Load(w.paths...)
	if err != nil {
		w.logger.Error("config.reload.error", "error", err)
		return Change{}, false
	}

	w.mu.Lock()
	change := Change{Previous: w.config, Current: cfg, Sections: Diff(w.config, cfg)}
	if len(change.Sections) == 0 {
		w.mu.Unlock()
		w.logger.Debug("config.reload.unchanged", "paths", w.paths)
		return Change{}, false
	}
	w.config = cfg
	listeners := append([]func(Change){}, w.listeners...)
	w.mu.Unlock()

	w.logger.Info("config.reload.ok", "sections", change.Sections)
	if restart := change.RestartRequired(); len(restart) > 0 {
		w.logger.Warn("config.reload.restart_required", "sections", restart)
	}
	for _, fn := range listeners {
		fn(change)
	}
	return change, true
}

func stampAll(paths []string) map[string]fileStamp {
	out := make(map[string]fileStamp, len(paths))
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil {
			out[path] = fileStamp{mod: info.ModTime(), size: info.Size()}
		}
	}
	return out
}
