// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads npcd configuration from defaults, YAML files and
// NPC_ prefixed environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides.
// NPC_SCHEDULER_NEAR_RADIUS maps to scheduler.near_radius.
const EnvPrefix = "NPC_"

type Config struct {
	Log         LogConfig         `koanf:"log"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
	Engine      EngineConfig      `koanf:"engine"`
	Planner     PlannerConfig     `koanf:"planner"`
	Wire        WireConfig        `koanf:"wire"`
	Journal     JournalConfig     `koanf:"journal"`
	HTTP        HTTPConfig        `koanf:"http"`
	Controllers ControllersConfig `koanf:"controllers"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter       string        `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint   string        `koanf:"otlp_endpoint"`
	OTLPInsecure   bool          `koanf:"otlp_insecure"`
	MetricInterval time.Duration `koanf:"metric_interval"`
}

// SchedulerConfig holds the distance based tick pacing.
type SchedulerConfig struct {
	Near       time.Duration `koanf:"near"`
	Far        time.Duration `koanf:"far"`
	NearRadius float64       `koanf:"near_radius"`
	Poll       time.Duration `koanf:"poll"`
}

// EngineConfig holds cooldown penalties and rejection notice windows.
type EngineConfig struct {
	CooldownReports      bool          `koanf:"cooldown_reports"`
	ReportWindow         time.Duration `koanf:"report_window"`
	AllCoolingWindow     time.Duration `koanf:"all_cooling_window"`
	ConnectivityPenalty  time.Duration `koanf:"connectivity_penalty"`
	InvalidArgsPenalty   time.Duration `koanf:"invalid_args_penalty"`
	DefaultPenalty       time.Duration `koanf:"default_penalty"`
	SnapshotMaxItems     int           `koanf:"snapshot_max_items"`
	SnapshotRoundDecimal int           `koanf:"snapshot_round"`
}

// PlannerConfig selects the default planner and its remote budget.
type PlannerConfig struct {
	Kind                     string         `koanf:"kind"` // rule, remote
	MaxRequestsPerMin        int            `koanf:"max_requests_per_min"`
	MinDecisionInterval      time.Duration  `koanf:"min_interval"`
	DisableAfterFirstFailure bool           `koanf:"disable_after_first_failure"`
	Provider                 ProviderConfig `koanf:"provider"`
}

// ProviderConfig configures the OpenAI compatible decision provider.
type ProviderConfig struct {
	Kind             string        `koanf:"kind"` // openai, openai-sdk, anthropic, gemini, ollama, mock
	Endpoint         string        `koanf:"endpoint"`
	Model            string        `koanf:"model"`
	APIKey           string        `koanf:"api_key"`
	Timeout          time.Duration `koanf:"timeout"`
	Retries          int           `koanf:"retries"`
	MaxResponseChars int           `koanf:"max_response_chars"`
}

type WireConfig struct {
	Connected       bool          `koanf:"connected"`
	BridgeTimeout   time.Duration `koanf:"bridge_timeout"`
	FallbackTimeout time.Duration `koanf:"fallback_timeout"`
	DelegateTimeout time.Duration `koanf:"delegate_timeout"`
	GRPCTarget      string        `koanf:"grpc_target"`
	WSPath          string        `koanf:"ws_path"`
	// OriginPatterns lists hosts allowed to open the executor websocket
	// cross origin. AllowAnyOrigin disables the check.
	OriginPatterns []string      `koanf:"origin_patterns"`
	AllowAnyOrigin bool          `koanf:"allow_any_origin"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
}

type JournalConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type ControllersConfig struct {
	Manifest string `koanf:"manifest"`
}

// ConstraintConfig is the declarative form of a constraint policy, shared
// by config files and controller manifests.
type ConstraintConfig struct {
	Allow           []string            `koanf:"allow" yaml:"allow"`
	Deny            []string            `koanf:"deny" yaml:"deny"`
	Mutex           map[string][]string `koanf:"mutex" yaml:"mutex"`
	MaxCallsPerTurn int                 `koanf:"max_calls_per_turn" yaml:"max_calls_per_turn"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"telemetry.exporter":        "none",
		"telemetry.metric_interval": time.Minute,

		"scheduler.near":        350 * time.Millisecond,
		"scheduler.far":         1500 * time.Millisecond,
		"scheduler.near_radius": 120.0,
		"scheduler.poll":        100 * time.Millisecond,

		"engine.cooldown_reports":     true,
		"engine.report_window":        5 * time.Second,
		"engine.all_cooling_window":   10 * time.Second,
		"engine.connectivity_penalty": 60 * time.Second,
		"engine.invalid_args_penalty": 10 * time.Second,
		"engine.default_penalty":      3 * time.Second,
		"engine.snapshot_max_items":   16,
		"engine.snapshot_round":       2,

		"planner.kind":                        "rule",
		"planner.max_requests_per_min":        0,
		"planner.min_interval":                2 * time.Second,
		"planner.disable_after_first_failure": false,
		"planner.provider.kind":               "openai",
		"planner.provider.endpoint":           "https://openrouter.ai/api/v1/chat/completions",
		"planner.provider.timeout":            3500 * time.Millisecond,
		"planner.provider.retries":            0,
		"planner.provider.max_response_chars": 200000,

		"wire.connected":        true,
		"wire.bridge_timeout":   5 * time.Second,
		"wire.fallback_timeout": 7 * time.Second,
		"wire.delegate_timeout": 4500 * time.Millisecond,
		"wire.ws_path":          "/wire/ws",
		"wire.write_timeout":    2 * time.Second,

		"journal.enabled": false,
		"journal.path":    "npc-events.db",

		"http.addr": ":8088",
	}
}

// Load reads defaults, then each YAML file in order, then the environment.
// Later files override earlier ones. Empty paths are skipped.
func Load(paths ...string) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps NPC_WIRE_BRIDGE_TIMEOUT to wire.bridge_timeout. Only the
// first underscore separates the section; nested provider keys use a
// double underscore (NPC_PLANNER_PROVIDER__API_KEY).
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	return strings.Replace(key, "_", ".", 1)
}

// ProfilePaths returns path plus any existing "<name>.<profile><ext>"
// overlay for the given profile.
func ProfilePaths(path, profile string) []string {
	if path == "" {
		return nil
	}
	paths := []string{path}
	if profile == "" {
		return paths
	}
	ext := filepath.Ext(path)
	overlay := strings.TrimSuffix(path, ext) + "." + profile + ext
	if _, err := os.Stat(overlay); err == nil {
		paths = append(paths, overlay)
	}
	return paths
}
