// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package entity creates and destroys the world entities agents drive.
package entity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
)

// SpawnInput describes an entity to create. A nil Networked means true.
type SpawnInput struct {
	Model     string    `json:"model"`
	Pos       core.Vec3 `json:"pos"`
	Heading   float64   `json:"heading,omitempty"`
	Networked *bool     `json:"networked,omitempty"`
}

func (in SpawnInput) networked() bool {
	return in.Networked == nil || *in.Networked
}

// Lifecycle owns entity identities.
type Lifecycle interface {
	Spawn(ctx context.Context, in SpawnInput) (core.Identity, error)
	Despawn(id string)
	Exists(id string) bool
}

// Mock handle and net id ranges of Memory.
const (
	FirstHandle = 10_000
	FirstNetID  = 50_000
)

// PositionFunc receives the spawn position of networked entities.
type PositionFunc func(netID int64, pos core.Vec3)

// Memory is an in-process Lifecycle handing out sequential handles and
// net ids. It backs offline runs and tests.
type Memory struct {
	mu         sync.Mutex
	byID       map[string]core.Identity
	nextHandle int64
	nextNetID  int64
	onSpawn    PositionFunc
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithSpawnPositions reports every networked spawn position to fn.
func WithSpawnPositions(fn PositionFunc) MemoryOption {
	return func(m *Memory) { m.onSpawn = fn }
}

// NewMemory creates an empty entity store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byID:       make(map[string]core.Identity),
		nextHandle: FirstHandle,
		nextNetID:  FirstNetID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Spawn implements Lifecycle. Non networked entities get no net id.
func (m *Memory) Spawn(ctx context.Context, in SpawnInput) (core.Identity, error) {
	if err := ctx.Err(); err != nil {
		return core.Identity{}, errors.New(errors.CodeTimeout, "spawn cancelled", err)
	}
	if in.Model == "" {
		return core.Identity{}, errors.New(errors.CodeInvalidInput, "spawn requires a model", nil)
	}

	m.mu.Lock()
	id := core.Identity{ID: uuid.NewString(), Handle: m.nextHandle}
	m.nextHandle++
	if in.networked() {
		id.NetID = m.nextNetID
		m.nextNetID++
	}
	m.byID[id.ID] = id
	onSpawn := m.onSpawn
	m.mu.Unlock()

	if onSpawn != nil && id.NetID > 0 {
		onSpawn(id.NetID, in.Pos)
	}
	return id, nil
}

// Despawn implements Lifecycle. Unknown ids are ignored.
func (m *Memory) Despawn(id string) {
	m.mu.Lock()
	delete(m.byID, id)
	m.mu.Unlock()
}

// Exists implements Lifecycle.
func (m *Memory) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[id]
	return ok
}

// Identity returns the identity of a live entity.
func (m *Memory) Identity(id string) (core.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.byID[id]
	return ident, ok
}

// ResolveNetID returns the net id of a live entity once it has one. It
// fits transport.WithNetIDResolver.
func (m *Memory) ResolveNetID(id core.Identity) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.byID[id.ID]
	if !ok || ident.NetID <= 0 {
		return 0, false
	}
	return ident.NetID, true
}

// Network registers a live entity as networked and returns its net id.
// Entities that already have one keep it.
func (m *Memory) Network(id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.byID[id]
	if !ok {
		return 0, errors.Newf(errors.CodeNotFound, "entity '%s' does not exist", id)
	}
	if ident.NetID <= 0 {
		ident.NetID = m.nextNetID
		m.nextNetID++
		m.byID[id] = ident
	}
	return ident.NetID, nil
}
