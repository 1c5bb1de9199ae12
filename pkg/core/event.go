// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

// EventScope selects who receives a domain event.
type EventScope string

const (
	ScopeServer EventScope = "server"
	ScopeNearby EventScope = "nearby"
	ScopeOwner  EventScope = "owner"
	ScopeAll    EventScope = "all"
)

// Valid reports whether s is a known scope.
func (s EventScope) Valid() bool {
	switch s {
	case ScopeServer, ScopeNearby, ScopeOwner, ScopeAll:
		return true
	}
	return false
}

// EmitOptions qualifies a domain event. Zero Scope means ScopeServer.
type EmitOptions struct {
	Scope  EventScope
	Radius float64
}

// Event names emitted by the runtime itself.
const (
	EventError = "npc:error"
	EventState = "npc:state"
)

// AgentEmitter emits domain events on behalf of one agent.
type AgentEmitter interface {
	Emit(name string, payload any, opts EmitOptions)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

// Emit implements AgentEmitter.
func (NoopEmitter) Emit(string, any, EmitOptions) {}
