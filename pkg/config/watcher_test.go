// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, body string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("failed to set mod time: %v", err)
	}
}

func TestWatcherDetectsChanges(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "npcd.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, configPath, "scheduler:\n  near: 200ms\n", base)

	watcher, err := NewWatcher([]string{configPath}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if got := watcher.Config().Scheduler.Near; got != 200*time.Millisecond {
		t.Fatalf("expected initial near 200ms, got %v", got)
	}

	changes := make(chan Change, 1)
	watcher.OnChange(func(c Change) {
		select {
		case changes <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	writeConfig(t, configPath, "scheduler:\n  near: 500ms\n", base.Add(time.Minute))

	select {
	case c := <-changes:
		if c.Current.Scheduler.Near != 500*time.Millisecond || c.Previous.Scheduler.Near != 200*time.Millisecond {
			t.Errorf("unexpected change %v -> %v", c.Previous.Scheduler.Near, c.Current.Scheduler.Near)
		}
		if !c.Has(SectionScheduler) || len(c.Sections) != 1 || len(c.RestartRequired()) != 0 {
			t.Errorf("expected a live scheduler change, got %v", c.Sections)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config change notification")
	}
}

func TestWatcherMultipleListeners(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "npcd.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, configPath, "log:\n  level: info\n", base)

	watcher, err := NewWatcher([]string{configPath}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	var count1, count2 atomic.Int32
	done := make(chan struct{}, 2)
	watcher.OnChange(func(Change) { count1.Add(1); done <- struct{}{} })
	watcher.OnChange(func(Change) { count2.Add(1); done <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	writeConfig(t, configPath, "log:\n  level: debug\n", base.Add(time.Minute))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for listeners")
		}
	}
	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("expected both listeners called once, got %d and %d", count1.Load(), count2.Load())
	}
}

func TestWatcherStops(t *testing.T) {
	watcher, err := NewWatcher(nil, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	watcher.Start(context.Background())

	done := make(chan struct{})
	go func() {
		watcher.Stop()
		watcher.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("watcher.Stop() did not complete in time")
	}
}

func TestReloadIgnoresUnchangedValues(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "npcd.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, configPath, "http:\n  addr: \":9000\"\n", base)

	watcher, err := NewWatcher([]string{configPath})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	var calls atomic.Int32
	watcher.OnChange(func(Change) { calls.Add(1) })

	writeConfig(t, configPath, "http:\n  addr: \":9000\"\n", base.Add(time.Minute))
	if _, ok := watcher.Reload(); ok || calls.Load() != 0 {
		t.Fatalf("expected no change for identical values")
	}

	writeConfig(t, configPath, "http:\n  addr: \":9001\"\n", base.Add(2*time.Minute))
	change, ok := watcher.Reload()
	if !ok || calls.Load() != 1 {
		t.Fatalf("expected one notification, got %d", calls.Load())
	}
	if restart := change.RestartRequired(); len(restart) != 1 || restart[0] != SectionHTTP {
		t.Fatalf("expected http to need a restart, got %v", restart)
	}
	if watcher.Config().HTTP.Addr != ":9001" {
		t.Fatalf("expected reloaded addr, got %s", watcher.Config().HTTP.Addr)
	}
}

func TestDiff(t *testing.T) {
	a, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b := *a
	if got := Diff(a, &b); len(got) != 0 {
		t.Fatalf("expected no diff, got %v", got)
	}
	b.Log.Level = "debug"
	b.Planner.MaxRequestsPerMin = 30
	got := Diff(a, &b)
	if len(got) != 2 || got[0] != SectionLog || got[1] != SectionPlanner {
		t.Fatalf("unexpected diff %v", got)
	}
	if Diff(nil, a) != nil {
		t.Fatalf("expected nil diff without a previous config")
	}
}
