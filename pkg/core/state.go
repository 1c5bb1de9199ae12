// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sort"
	"sync"
)

// Scratch key namespaces. Every key written to an agent State belongs to
// one of these.
const (
	// MutexPrefix + group holds the skill key that owns the group lock.
	MutexPrefix = "mutex:"
	// CooldownPrefix + skill mirrors the engine cooldown deadline (time.Time).
	CooldownPrefix = "cooldown:"
	// ObservationPrefix + key mirrors observation values set through the facade.
	ObservationPrefix = "obs."
	// StepSuffix is appended to a skill key for composed skill step counters.
	StepSuffix = ".step"

	// KeyTargetVehicle holds the vehicle net id used by the nearVehicle predicate.
	KeyTargetVehicle = "targetVeh"
	// KeyTargetDestination holds the Vec3 used by the nearDestination predicate.
	KeyTargetDestination = "targetDest"
)

// MutexKey returns the scratch key of a mutex group.
func MutexKey(group string) string { return MutexPrefix + group }

// CooldownKey returns the scratch key mirroring a skill cooldown.
func CooldownKey(skill string) string { return CooldownPrefix + skill }

// StepKey returns the step counter key of a composed skill.
func StepKey(skill string) string { return skill + StepSuffix }

// ObservationKey returns the mirror key of an observation.
func ObservationKey(key string) string { return ObservationPrefix + key }

// StateReader is the read only view handed to wait predicates.
type StateReader interface {
	Get(key string) (any, bool)
}

// State is the per-agent scratch map. It is safe for concurrent use so
// the facade can mirror observations while a tick runs.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState returns an empty scratch map.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys returns all keys in lexical order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the map.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Lookup reads key from r and asserts it to T.
func Lookup[T any](r StateReader, key string) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	raw, ok := r.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// LookupInt reads an integer counter stored as any numeric type.
func LookupInt(r StateReader, key string) (int, bool) {
	if r == nil {
		return 0, false
	}
	raw, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := AsFloat(raw)
	return int(f), ok
}
