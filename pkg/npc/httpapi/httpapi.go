// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the npc API to operators over HTTP and mounts
// the executor websocket.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/engine"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/npc"
	"github.com/jllopis/kairos-npc/pkg/skills"
)

// DefaultWirePath is where the executor websocket is mounted by default.
const DefaultWirePath = "/wire/ws"

// AgentView is the JSON form of an attached agent.
type AgentView struct {
	Identity     core.Identity  `json:"identity"`
	ControllerID string         `json:"controllerId,omitempty"`
	Goal         core.Goal      `json:"goal"`
	Planner      string         `json:"planner"`
	AllowSkills  []string       `json:"allowSkills"`
	Observations map[string]any `json:"observations,omitempty"`
	Active       *FrameView     `json:"active,omitempty"`
	TurnCalls    int            `json:"turnCalls"`
}

// FrameView is the JSON form of an active skill frame.
type FrameView struct {
	Skill    string     `json:"skill"`
	WaitKind string     `json:"waitKind,omitempty"`
	WaitKey  string     `json:"waitKey,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Server serves the admin routes.
type Server struct {
	api      *npc.API
	skills   *skills.Registry
	journal  events.Journal
	wire     http.Handler
	wirePath string
	logger   *slog.Logger
	router   chi.Router
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWire mounts h at path, DefaultWirePath when empty.
func WithWire(path string, h http.Handler) Option {
	return func(s *Server) {
		if path == "" {
			path = DefaultWirePath
		}
		s.wire, s.wirePath = h, path
	}
}

// WithJournal serves GET /agents/{id}/events from j.
func WithJournal(j events.Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithLogger sets the access logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the router. addr is used by Start.
func New(addr string, api *npc.API, registry *skills.Registry, opts ...Option) *Server {
	s := &Server{api: api, skills: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Get("/skills", s.listSkills)
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", s.listAgents)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getAgent)
			r.Patch("/observations", s.patchObservations)
			r.Post("/tick", s.tick)
			r.Get("/memory", s.memory)
			r.Get("/events", s.agentEvents)
		})
	})
	if s.wire != nil {
		r.Handle(s.wirePath, s.wire)
	}

	s.router = r
	s.server = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP until Stop.
func (s *Server) Start() error {
	s.logger.Info("httpapi.start", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.skills.Metas())
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.api.Agents()
	out := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		v := viewOf(a)
		v.Observations = nil
		out = append(out, v)
	}
	render.JSON(w, r, out)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, viewOf(a))
}

func (s *Server) patchObservations(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	var patch map[string]any
	if err := render.DecodeJSON(r.Body, &patch); err != nil {
		s.fail(w, r, errors.New(errors.CodeInvalidInput, "observation patch must be a JSON object", err))
		return
	}
	if err := s.api.SetObservation(a.Identity, patch); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, viewOf(a))
}

func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	if err := s.api.Run(r.Context(), a.Identity); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, viewOf(a))
}

func (s *Server) memory(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	mem, err := s.api.Memory(a.Identity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, mem)
}

func (s *Server) agentEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.fail(w, r, errors.New(errors.CodeNotFound, "event journal disabled", nil))
		return
	}
	filter := events.Filter{AgentID: chi.URLParam(r, "id"), Name: r.URL.Query().Get("name"), Limit: 100}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, r, errors.Newf(errors.CodeInvalidInput, "invalid limit %q", raw))
			return
		}
		filter.Limit = n
	}
	list, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, list)
}

func (s *Server) agent(w http.ResponseWriter, r *http.Request) (*engine.Agent, bool) {
	id := chi.URLParam(r, "id")
	a, ok := s.api.Agent(id)
	if !ok {
		s.fail(w, r, errors.Newf(errors.CodeNotFound, "npc '%s' is not attached", id))
	}
	return a, ok
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.CodeInternal
	}
	render.Status(r, statusFor(code))
	render.JSON(w, r, errorResponse{Code: string(code), Error: err.Error()})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeDuplicate:
		return http.StatusConflict
	case errors.CodeRateLimit:
		return http.StatusTooManyRequests
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "httpapi.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func viewOf(a *engine.Agent) AgentView {
	v := AgentView{
		Identity:     a.Identity,
		ControllerID: a.ControllerID,
		Goal:         a.Goal(),
		AllowSkills:  a.Policy.Allowlist(),
		Observations: a.Observations(),
		TurnCalls:    a.TurnCalls(),
	}
	if a.Planner != nil {
		v.Planner = a.Planner.Name()
	}
	if f := a.Active(); f != nil {
		fv := &FrameView{Skill: f.Skill}
		if f.Wait != nil {
			fv.WaitKind = string(f.Wait.Kind)
			fv.WaitKey = f.Wait.Key
		}
		if d, ok := f.Deadline(); ok {
			fv.Deadline = &d
		}
		v.Active = fv
	}
	return v
}
