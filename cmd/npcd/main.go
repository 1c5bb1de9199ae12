// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command npcd runs the NPC agent runtime: it drives attached agents on
// their own ticks, serves the admin API and accepts executor connections.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jllopis/kairos-npc/pkg/config"
	"github.com/jllopis/kairos-npc/pkg/controller"
	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/engine"
	"github.com/jllopis/kairos-npc/pkg/entity"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/llm"
	"github.com/jllopis/kairos-npc/pkg/llm/anthropic"
	"github.com/jllopis/kairos-npc/pkg/llm/gemini"
	openaisdk "github.com/jllopis/kairos-npc/pkg/llm/openai"
	"github.com/jllopis/kairos-npc/pkg/npc"
	"github.com/jllopis/kairos-npc/pkg/npc/httpapi"
	"github.com/jllopis/kairos-npc/pkg/planner"
	"github.com/jllopis/kairos-npc/pkg/resilience"
	"github.com/jllopis/kairos-npc/pkg/runtime"
	"github.com/jllopis/kairos-npc/pkg/scheduler"
	"github.com/jllopis/kairos-npc/pkg/skills"
	"github.com/jllopis/kairos-npc/pkg/skills/builtin"
	"github.com/jllopis/kairos-npc/pkg/telemetry"
	"github.com/jllopis/kairos-npc/pkg/transport"
	"github.com/jllopis/kairos-npc/pkg/wire"
	"github.com/jllopis/kairos-npc/pkg/wire/grpcwire"
	"github.com/jllopis/kairos-npc/pkg/wire/ws"
)

var version = "dev"

// distanceKey is the observation hosts set with the distance to the
// nearest player.
const distanceKey = "nearestPlayerDistance"

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	profile := flag.String("profile", "", "Config profile overlay (dev, prod)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("npcd", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.ProfilePaths(*configPath, *profile)); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, paths []string) error {
	watcher, err := config.NewWatcher(paths)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := watcher.Config()

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.InitWithConfig("npcd", version, telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("npcd.telemetry_shutdown", "error", err)
		}
	}()
	metrics, err := telemetry.NewRuntimeMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	preds := transport.NewPredicates()
	hubOpts := []ws.Option{
		ws.WithPredicates(preds),
		ws.WithLogger(logger),
		ws.WithWriteTimeout(cfg.Wire.WriteTimeout),
		ws.WithOriginPatterns(cfg.Wire.OriginPatterns...),
	}
	if cfg.Wire.AllowAnyOrigin {
		hubOpts = append(hubOpts, ws.WithAnyOrigin())
	}
	hub := ws.NewHub(hubOpts...)
	hooks := events.NewHookBus(events.WithLogger(logger))
	bus := events.NewEventBus(events.WithLogger(logger), events.WithForwarder(hub))

	var journal events.Journal
	if cfg.Journal.Enabled {
		j, err := events.OpenSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		detach := events.Attach(bus, j, logger)
		defer detach()
		journal = j
	}

	entities := entity.NewMemory(entity.WithSpawnPositions(preds.SetPosition))
	tr, closeWire, err := buildTransport(cfg.Wire, hub, preds, entities.ResolveNetID, logger, metrics)
	if err != nil {
		return err
	}
	defer closeWire()

	reg := skills.NewRegistry()
	if err := builtin.RegisterAll(reg); err != nil {
		return err
	}
	eng := engine.New(reg, hooks, bus, tr,
		append(engine.OptionsFromConfig(cfg.Engine), engine.WithLogger(logger), engine.WithMetrics(metrics))...)

	sched := scheduler.FromConfig(cfg.Scheduler)
	watcher.OnChange(func(c config.Change) {
		if c.Has(config.SectionLog) {
			telemetry.SetLogLevel(c.Current.Log.Level)
		}
		if c.Has(config.SectionScheduler) {
			sched.SetDefaults(scheduler.Defaults{
				Near:       c.Current.Scheduler.Near,
				Far:        c.Current.Scheduler.Far,
				NearRadius: c.Current.Scheduler.NearRadius,
			})
			logger.Info("npcd.pacing_reloaded", "near", c.Current.Scheduler.Near, "far", c.Current.Scheduler.Far)
		}
	})
	svc := runtime.NewService(eng, sched,
		runtime.WithPoll(cfg.Scheduler.Poll),
		runtime.WithDistance(runtime.ObservedDistance(distanceKey)),
		runtime.WithLogger(logger),
		runtime.WithMetrics(metrics))

	ctrl := controller.NewRuntime(hooks, bus)
	defer ctrl.Close()

	// The remote planner notifies through the api, which needs the planners
	// first; the closure breaks the cycle.
	var api *npc.API
	notify := func(ctx context.Context, sc *core.SkillContext, reason string) {
		if api != nil {
			api.NotifyFallback(ctx, sc, reason)
		}
	}
	factory := plannerFactory(ctx, cfg.Planner, notify, logger, metrics)
	defaultPlanner, err := factory(cfg.Planner.Kind)
	if err != nil {
		return err
	}
	if cfg.Controllers.Manifest != "" {
		m, err := controller.LoadManifest(cfg.Controllers.Manifest)
		if err != nil {
			return err
		}
		if err := ctrl.RegisterManifest(m, factory); err != nil {
			return err
		}
		logger.Info("npcd.controllers_loaded", "groups", ctrl.Groups())
	}

	api = npc.New(entities, eng,
		npc.WithRuntime(svc),
		npc.WithControllers(ctrl),
		npc.WithHooks(hooks),
		npc.WithDefaultPlanner(func() planner.Planner { return defaultPlanner }),
		npc.WithLogger(logger))

	opts := []httpapi.Option{httpapi.WithWire(cfg.Wire.WSPath, hub), httpapi.WithLogger(logger)}
	if journal != nil {
		opts = append(opts, httpapi.WithJournal(journal))
	}
	server := httpapi.New(cfg.HTTP.Addr, api, reg, opts...)

	if err := svc.Start(ctx); err != nil {
		return err
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	logger.Info("npcd.ready", "version", version, "addr", cfg.HTTP.Addr, "planner", defaultPlanner.Name(), "connected", cfg.Wire.Connected)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = svc.Stop(context.Background())
		return err
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("npcd.stopping")
	if err := server.Stop(sctx); err != nil {
		return err
	}
	return svc.Stop(sctx)
}

// buildTransport wires delegation to executors. Without a connected wire
// every primitive runs on the simulated world.
func buildTransport(cfg config.WireConfig, hub *ws.Hub, preds *transport.Predicates, resolve transport.NetIDResolver, logger *slog.Logger, metrics *telemetry.RuntimeMetrics) (core.Transport, func(), error) {
	local := transport.NewSimulated(preds)
	opts := []transport.DelegatingOption{
		transport.WithLocal(local),
		transport.WithPredicates(preds),
		transport.WithDelegateTimeout(cfg.DelegateTimeout),
		transport.WithNetIDResolver(resolve),
		transport.WithLogger(logger),
	}
	if !cfg.Connected {
		return transport.NewDelegating(nil, nil, opts...), func() {}, nil
	}

	fallback := wire.NewNetFallback(hub, wire.WithFallbackTimeout(cfg.FallbackTimeout), wire.WithFallbackLogger(logger))
	hub.OnResult(fallback.Deliver)

	var (
		caller  wire.Caller = fallback
		closeFn             = func() {}
	)
	if cfg.GRPCTarget != "" {
		grpcCaller, conn, err := grpcwire.Dial(cfg.GRPCTarget)
		if err != nil {
			return nil, nil, errors.New(errors.CodeConnectivity, "dial executor", err).WithContext("target", cfg.GRPCTarget)
		}
		composite := wire.NewComposite(grpcCaller, fallback)
		composite.Logger = logger
		composite.Metrics = metrics
		caller = composite
		closeFn = func() { _ = conn.Close() }
	}

	bridge := wire.NewBridge(caller, wire.WithBridgeTimeout(cfg.BridgeTimeout))
	chooser := func(core.Identity) (string, bool) {
		if id, ok := hub.Executors().ChooseAny(); ok {
			return id, true
		}
		if cfg.GRPCTarget != "" {
			return "grpc:" + cfg.GRPCTarget, true
		}
		return "", false
	}
	return transport.NewDelegating(bridge, chooser, opts...), closeFn, nil
}

// plannerFactory resolves planner kinds for the default planner and the
// controller manifest. Every remote group shares one planner so the
// request budget is global.
func plannerFactory(ctx context.Context, cfg config.PlannerConfig, notify planner.FallbackNotifier, logger *slog.Logger, metrics *telemetry.RuntimeMetrics) controller.PlannerFactory {
	var remote *planner.RemotePlanner
	return func(kind string) (planner.Planner, error) {
		if kind != controller.PlannerRemote {
			return controller.RuleFactory(kind)
		}
		if remote != nil {
			return remote, nil
		}
		chat, err := chatProvider(ctx, cfg.Provider, logger)
		if err != nil {
			return nil, err
		}
		decisions := llm.NewChatDecisionProvider(chat, cfg.Provider.Model, llm.WithMaxResponseChars(cfg.Provider.MaxResponseChars))
		remote = planner.NewRemote(decisions, planner.NewRule(), planner.Budget{
			MaxRequestsPerMin:        cfg.MaxRequestsPerMin,
			MinDecisionInterval:      cfg.MinDecisionInterval,
			DisableAfterFirstFailure: cfg.DisableAfterFirstFailure,
		},
			planner.WithLogger(logger),
			planner.WithMetrics(metrics),
			planner.WithFallbackNotifier(notify))
		return remote, nil
	}
}

func chatProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (llm.Provider, error) {
	switch cfg.Kind {
	case "", "openai":
		return llm.NewOpenAICompatible(llm.OpenAIOptions{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Timeout:  cfg.Timeout,
			Retries:  cfg.Retries,
			Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 1,
				Timeout:          30 * time.Second,
				Name:             "planner-provider",
			}),
			Logger: logger,
		}), nil
	case "ollama":
		return llm.NewOllama(customEndpoint(cfg.Endpoint), cfg.Timeout), nil
	case "openai-sdk":
		return openaisdk.New(
			openaisdk.WithAPIKey(cfg.APIKey),
			openaisdk.WithBaseURL(customEndpoint(cfg.Endpoint)),
			openaisdk.WithModel(cfg.Model),
			openaisdk.WithTimeout(cfg.Timeout)), nil
	case "anthropic":
		return anthropic.New(
			anthropic.WithAPIKey(cfg.APIKey),
			anthropic.WithBaseURL(customEndpoint(cfg.Endpoint)),
			anthropic.WithModel(cfg.Model),
			anthropic.WithTimeout(cfg.Timeout)), nil
	case "gemini":
		return gemini.New(ctx, cfg.APIKey, gemini.WithModel(cfg.Model), gemini.WithTimeout(cfg.Timeout))
	case "mock":
		// Offline runs: every agent wanders around its anchor.
		return &llm.MockProvider{Response: `{"skill":"` + builtin.WanderArea + `","args":{"radius":25},"confidence":1}`}, nil
	default:
		return nil, errors.Newf(errors.CodeConfiguration, "unknown planner provider %q", cfg.Kind)
	}
}

// customEndpoint drops the OpenRouter default so SDK backends use their
// own base URL.
func customEndpoint(endpoint string) string {
	if endpoint == llm.DefaultEndpoint {
		return ""
	}
	return endpoint
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
