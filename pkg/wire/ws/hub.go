// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/transport"
	"github.com/jllopis/kairos-npc/pkg/wire"
)

// ExecutorParam is the query parameter naming a connecting executor.
const ExecutorParam = "executor"

// DefaultWriteTimeout bounds one frame written to an executor.
const DefaultWriteTimeout = 2 * time.Second

// Hub accepts executor connections. It implements wire.Emitter for the
// net fallback and events.Forwarder for scoped domain events.
type Hub struct {
	executors    *wire.ExecutorRegistry
	predicates   *transport.Predicates
	logger       *slog.Logger
	accept       websocket.AcceptOptions
	writeTimeout time.Duration

	mu      sync.RWMutex
	conns   map[string]*websocket.Conn
	results func(wire.SkillResultMsg) bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPredicates sets the store fed by predicate and position frames.
func WithPredicates(p *transport.Predicates) Option {
	return func(h *Hub) { h.predicates = p }
}

// WithOriginPatterns accepts cross origin connections from the given
// host patterns. Without it only same origin requests and clients that
// send no Origin header are accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) {
		h.accept.OriginPatterns = append(h.accept.OriginPatterns, patterns...)
	}
}

// WithAnyOrigin disables the origin check.
func WithAnyOrigin() Option {
	return func(h *Hub) { h.accept.InsecureSkipVerify = true }
}

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// NewHub creates a hub. Connected executors are exposed as peers of a
// fresh ExecutorRegistry.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:       slog.Default(),
		writeTimeout: DefaultWriteTimeout,
		conns:        make(map[string]*websocket.Conn),
	}
	h.executors = wire.NewExecutorRegistry(h.Peers)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Executors returns the registry of ready executors.
func (h *Hub) Executors() *wire.ExecutorRegistry { return h.executors }

// OnResult sets the sink for inbound result frames, usually
// NetFallback.Deliver.
func (h *Hub) OnResult(fn func(wire.SkillResultMsg) bool) {
	h.mu.Lock()
	h.results = fn
	h.mu.Unlock()
}

// Peers returns connected executor ids in lexical order.
func (h *Hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ServeHTTP upgrades an executor connection and serves it until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(ExecutorParam)
	if id == "" {
		id = uuid.NewString()
	}
	conn, err := websocket.Accept(w, r, &h.accept)
	if err != nil {
		h.logger.Warn("wire.ws.accept_error", "executor", id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	h.mu.Lock()
	if old, ok := h.conns[id]; ok {
		_ = old.Close(websocket.StatusPolicyViolation, "replaced")
	}
	h.conns[id] = conn
	h.mu.Unlock()
	h.logger.Info("wire.ws.connected", "executor", id)

	ctx := r.Context()
	err = h.serve(ctx, id, conn)

	h.mu.Lock()
	if h.conns[id] == conn {
		delete(h.conns, id)
		h.executors.Drop(id)
	}
	h.mu.Unlock()
	h.logger.Info("wire.ws.disconnected", "executor", id, "error", err)
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func (h *Hub) serve(ctx context.Context, id string, conn *websocket.Conn) error {
	for {
		f, err := readFrame(ctx, conn)
		if stderrors.Is(err, errBadFrame) {
			h.logger.Warn("wire.ws.bad_frame", "executor", id, "error", err)
			continue
		}
		if err != nil {
			return err
		}
		h.handle(id, f)
	}
}

func (h *Hub) handle(id string, f Frame) {
	switch f.Type {
	case FrameReady:
		h.executors.MarkReady(id)
		h.logger.Info("wire.ws.ready", "executor", id)
	case FrameResult:
		if f.Result == nil {
			return
		}
		h.mu.RLock()
		sink := h.results
		h.mu.RUnlock()
		if sink == nil {
			h.logger.Warn("wire.ws.result_dropped", "executor", id, "call_id", f.Result.CallID)
			return
		}
		sink(*f.Result)
	case FramePredicate:
		if h.predicates != nil && f.NetID != 0 && f.Key != "" {
			h.predicates.Set(f.NetID, f.Key, f.Value)
		}
	case FramePosition:
		if h.predicates != nil && f.NetID != 0 && f.Position != nil {
			h.predicates.SetPosition(f.NetID, *f.Position)
		}
	default:
		h.logger.Debug("wire.ws.unknown_frame", "executor", id, "type", f.Type)
	}
}

func (h *Hub) conn(id string) (*websocket.Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// Emit implements wire.Emitter.
func (h *Hub) Emit(ctx context.Context, target string, msg wire.ExecuteSkillMsg) error {
	c, ok := h.conn(target)
	if !ok {
		return errors.Newf(errors.CodeConnectivity, "executor '%s' not connected", target)
	}
	return h.write(ctx, c, Frame{Type: FrameExecute, Execute: &msg})
}

func (h *Hub) write(ctx context.Context, c *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return writeFrame(ctx, c, f)
}

// Forward implements events.Forwarder by broadcasting the envelope to
// every connected executor. Each write is bounded by the write timeout.
func (h *Hub) Forward(ctx context.Context, env events.Envelope) error {
	if env.Scope == core.ScopeServer {
		return nil
	}
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.write(ctx, c, Frame{Type: FrameEvent, Event: &env}); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return stderrors.Join(errs...)
}
