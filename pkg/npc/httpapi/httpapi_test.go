// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/engine"
	"github.com/jllopis/kairos-npc/pkg/entity"
	"github.com/jllopis/kairos-npc/pkg/events"
	"github.com/jllopis/kairos-npc/pkg/governance"
	"github.com/jllopis/kairos-npc/pkg/npc"
	"github.com/jllopis/kairos-npc/pkg/skills"
	"github.com/jllopis/kairos-npc/pkg/skills/builtin"
	"github.com/jllopis/kairos-npc/pkg/transport"
)

type env struct {
	srv     *httptest.Server
	api     *npc.API
	id      core.Identity
	journal *events.MemoryJournal
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	preds := transport.NewPredicates()
	entities := entity.NewMemory(entity.WithSpawnPositions(preds.SetPosition))
	reg := skills.NewRegistry()
	if err := builtin.RegisterAll(reg); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	bus := events.NewEventBus(events.WithSynchronousDelivery())
	journal := events.NewMemoryJournal()
	events.Attach(bus, journal, nil)
	eng := engine.New(reg, nil, bus, transport.NewSimulated(preds))
	api := npc.New(entities, eng)

	id, err := api.Spawn(context.Background(), entity.SpawnInput{Model: "a_m_y_hipster_01"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := api.Attach(id, npc.AttachOptions{
		Constraints: func(p *governance.Policy) { p.Allow(builtin.WanderArea) },
	}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	s := New(":0", api, reg, append([]Option{WithJournal(journal)}, opts...)...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &env{srv: ts, api: api, id: id, journal: journal}
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *env) list(t *testing.T, path string) []any {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	var out []any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return out
}

func TestHealthAndSkills(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", resp.StatusCode, body)
	}
	if n := len(e.list(t, "/skills")); n != len(builtin.Keys) {
		t.Fatalf("expected %d skills, got %d", len(builtin.Keys), n)
	}
}

func TestAgentRoutes(t *testing.T) {
	e := newEnv(t)
	agents := e.list(t, "/agents")
	if len(agents) != 1 || agents[0].(map[string]any)["planner"] != "rule" {
		t.Fatalf("unexpected agents %v", agents)
	}

	resp, body := e.do(t, http.MethodPatch, "/agents/"+e.id.ID+"/observations", `{"anchor":{"x":1,"y":2,"z":0}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d %v", resp.StatusCode, body)
	}
	if _, ok := body["observations"].(map[string]any)["anchor"]; !ok {
		t.Fatalf("expected anchor observation, got %v", body)
	}

	resp, body = e.do(t, http.MethodPost, "/agents/"+e.id.ID+"/tick", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tick status %d %v", resp.StatusCode, body)
	}
	active, ok := body["active"].(map[string]any)
	if !ok || active["skill"] != builtin.WanderArea || active["waitKind"] != string(core.WaitDuration) {
		t.Fatalf("expected wander frame after tick, got %v", body)
	}

	_ = e.api.Remember(e.id, "note")
	if mem := e.list(t, "/agents/"+e.id.ID+"/memory"); len(mem) != 1 || mem[0] != "note" {
		t.Fatalf("unexpected memory %v", mem)
	}

	evs := e.list(t, "/agents/"+e.id.ID+"/events?name="+core.EventState)
	if len(evs) != 1 {
		t.Fatalf("expected one journaled state event, got %v", evs)
	}
}

func TestErrors(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/agents/ghost", "")
	if resp.StatusCode != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", resp.StatusCode, body)
	}
	resp, body = e.do(t, http.MethodPatch, "/agents/"+e.id.ID+"/observations", `[1,2]`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "INVALID_INPUT" {
		t.Fatalf("expected 400, got %d %v", resp.StatusCode, body)
	}
	resp, _ = e.do(t, http.MethodGet, "/agents/"+e.id.ID+"/events?limit=zero", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestWireMount(t *testing.T) {
	var hit bool
	e := newEnv(t, WithWire("", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
		w.WriteHeader(http.StatusTeapot)
	})))
	resp, _ := e.do(t, http.MethodGet, DefaultWirePath, "")
	if !hit || resp.StatusCode != http.StatusTeapot {
		t.Fatalf("expected wire handler mounted, status %d", resp.StatusCode)
	}
}
