// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command npcexec is a simulated executor. It connects to npcd over the
// websocket wire, runs delegated primitives on an in-memory world and
// reports positions and predicates back. With -grpc it also serves the
// same primitives over gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/telemetry"
	"github.com/jllopis/kairos-npc/pkg/transport"
	"github.com/jllopis/kairos-npc/pkg/wire/grpcwire"
	"github.com/jllopis/kairos-npc/pkg/wire/ws"
)

func main() {
	url := flag.String("url", "ws://localhost:8088/wire/ws", "npcd websocket endpoint")
	id := flag.String("id", "executor-1", "Executor id")
	grpcAddr := flag.String("grpc", "", "Also serve primitives over gRPC on this address")
	vehicles := flag.String("vehicles", "", "Vehicles to seed, as netId@x,y,z separated by ';'")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := telemetry.ConfigureSlog(os.Stderr, *level, "text")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	world := transport.NewPredicates()
	if err := seedVehicles(world, *vehicles); err != nil {
		fatal(err)
	}
	if err := run(ctx, logger, world, *url, *id, *grpcAddr); err != nil && ctx.Err() == nil {
		fatal(err)
	}
}

func run(ctx context.Context, logger *slog.Logger, world *transport.Predicates, url, id, grpcAddr string) error {
	var current atomic.Pointer[ws.Client]
	report := func(ctx context.Context, netID int64, skill string) {
		client := current.Load()
		if client == nil {
			return
		}
		if pos, ok := world.Position(netID); ok {
			if err := client.ReportPosition(ctx, netID, pos); err != nil {
				logger.Warn("npcexec.report_failed", "net_id", netID, "error", err)
			}
		}
		if v, ok := world.Get(netID, transport.PredInVehicle); ok {
			_ = client.ReportPredicate(ctx, netID, transport.PredInVehicle, v)
		}
		logger.Debug("npcexec.executed", "net_id", netID, "skill", skill)
	}
	exec := transport.NewExecutor(transport.NewSimulated(world), transport.AfterExecute(report))

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		srv := grpc.NewServer()
		grpcwire.Register(srv, exec)
		go func() {
			logger.Info("npcexec.grpc_serving", "addr", grpcAddr)
			if err := srv.Serve(lis); err != nil {
				logger.Error("npcexec.grpc_stopped", "error", err)
			}
		}()
		defer srv.GracefulStop()
	}

	backoff := time.Second
	for {
		c, err := ws.Dial(ctx, url, id, exec)
		if err == nil {
			current.Store(c)
			logger.Info("npcexec.connected", "url", url, "executor", id)
			err = c.Run(ctx)
			_ = c.Close()
			current.Store(nil)
			backoff = time.Second
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("npcexec.disconnected", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// seedVehicles parses "60000@10,0,0;60001@5,5,0".
func seedVehicles(world *transport.Predicates, spec string) error {
	for _, item := range strings.Split(spec, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		rawID, rawPos, ok := strings.Cut(item, "@")
		if !ok {
			return fmt.Errorf("vehicle %q: want netId@x,y,z", item)
		}
		netID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return fmt.Errorf("vehicle %q: %w", item, err)
		}
		parts := strings.Split(rawPos, ",")
		if len(parts) != 3 {
			return fmt.Errorf("vehicle %q: want three coordinates", item)
		}
		var xyz [3]float64
		for i, p := range parts {
			if xyz[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
				return fmt.Errorf("vehicle %q: %w", item, err)
			}
		}
		world.SetPosition(netID, core.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
