// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scheduler.Near != 350*time.Millisecond || cfg.Scheduler.Far != 1500*time.Millisecond {
		t.Errorf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.NearRadius != 120 {
		t.Errorf("expected near radius 120, got %v", cfg.Scheduler.NearRadius)
	}
	if cfg.Planner.MinDecisionInterval != 2*time.Second {
		t.Errorf("expected min interval 2s, got %v", cfg.Planner.MinDecisionInterval)
	}
	if cfg.Wire.FallbackTimeout != 7*time.Second || cfg.Wire.BridgeTimeout != 5*time.Second {
		t.Errorf("unexpected wire timeouts: %+v", cfg.Wire)
	}
	if cfg.Wire.AllowAnyOrigin || len(cfg.Wire.OriginPatterns) != 0 || cfg.Wire.WriteTimeout != 2*time.Second {
		t.Errorf("expected same origin executor websocket by default: %+v", cfg.Wire)
	}
	if cfg.Engine.InvalidArgsPenalty != 10*time.Second || cfg.Engine.ConnectivityPenalty != time.Minute {
		t.Errorf("unexpected engine penalties: %+v", cfg.Engine)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("NPC_PLANNER_KIND", "remote")
	t.Setenv("NPC_SCHEDULER_NEAR_RADIUS", "80")
	t.Setenv("NPC_WIRE_BRIDGE_TIMEOUT", "750ms")
	t.Setenv("NPC_PLANNER_PROVIDER__API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Planner.Kind != "remote" {
		t.Errorf("expected planner kind remote from env, got %s", cfg.Planner.Kind)
	}
	if cfg.Scheduler.NearRadius != 80 {
		t.Errorf("expected near radius 80, got %v", cfg.Scheduler.NearRadius)
	}
	if cfg.Wire.BridgeTimeout != 750*time.Millisecond {
		t.Errorf("expected bridge timeout 750ms, got %v", cfg.Wire.BridgeTimeout)
	}
	if cfg.Planner.Provider.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %q", cfg.Planner.Provider.APIKey)
	}
}

func TestLoadFileAndProfile(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "npcd.yaml")
	base := `
planner:
  kind: remote
  max_requests_per_min: 30
log:
  level: info
`
	if err := os.WriteFile(basePath, []byte(base), 0o644); err != nil {
		t.Fatalf("failed to write base config: %v", err)
	}
	devPath := filepath.Join(tmpDir, "npcd.dev.yaml")
	if err := os.WriteFile(devPath, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("failed to write dev config: %v", err)
	}

	paths := ProfilePaths(basePath, "dev")
	if len(paths) != 2 || paths[1] != devPath {
		t.Fatalf("expected base and dev overlay, got %v", paths)
	}
	if got := ProfilePaths(basePath, "prod"); len(got) != 1 {
		t.Fatalf("expected missing overlay to be skipped, got %v", got)
	}

	cfg, err := Load(paths...)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected overlay log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Planner.Kind != "remote" || cfg.Planner.MaxRequestsPerMin != 30 {
		t.Errorf("expected base planner settings, got %+v", cfg.Planner)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"NPC_LOG_LEVEL":                  "log.level",
		"NPC_ENGINE_DEFAULT_PENALTY":     "engine.default_penalty",
		"NPC_PLANNER_PROVIDER__ENDPOINT": "planner.provider.endpoint",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
