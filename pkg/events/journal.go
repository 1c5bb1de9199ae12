// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Journal stores emitted envelopes for audit. Nothing is read back into
// agents.
type Journal interface {
	Record(ctx context.Context, env Envelope) error
	List(ctx context.Context, filter Filter) ([]Envelope, error)
}

// Filter limits journal queries.
type Filter struct {
	Name    string
	AgentID string
	Since   time.Time
	Limit   int
}

func (f Filter) match(env Envelope) bool {
	if f.Name != "" && env.Name != f.Name {
		return false
	}
	if f.AgentID != "" && env.AgentID != f.AgentID {
		return false
	}
	if !f.Since.IsZero() && env.TS.Before(f.Since) {
		return false
	}
	return true
}

// Attach records every event emitted on bus into j.
func Attach(bus *EventBus, j Journal, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	return bus.SubscribeAll(func(ctx context.Context, env Envelope) error {
		if err := j.Record(ctx, env); err != nil {
			logger.Warn("events.journal.error", "event", env.Name, "agent_id", env.AgentID, "error", err)
			return err
		}
		return nil
	})
}

// MemoryJournal keeps envelopes in memory.
type MemoryJournal struct {
	mu     sync.Mutex
	events []Envelope
}

// NewMemoryJournal returns an in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record appends an envelope.
func (j *MemoryJournal) Record(_ context.Context, env Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, env)
	return nil
}

// List returns matching envelopes in record order.
func (j *MemoryJournal) List(_ context.Context, filter Filter) ([]Envelope, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Envelope, 0, len(j.events))
	for _, env := range j.events {
		if !filter.match(env) {
			continue
		}
		out = append(out, env)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("null"), nil
	}
	return json.Marshal(payload)
}

func decodePayload(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
