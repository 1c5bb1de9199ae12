// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"sync"

	"github.com/jllopis/kairos-npc/pkg/errors"
)

type entry struct {
	meta     Meta
	instance Skill
	factory  func() Skill
}

// Registry maps skill keys to handlers. It is append only and safe for
// concurrent use. Each composition root owns one.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register stores an eagerly built skill. meta may be nil, in which case it
// is derived from the skill. A duplicate key is an error.
func (r *Registry) Register(s Skill, meta *Meta) error {
	if s == nil || s.Key() == "" {
		return errors.New(errors.CodeInvalidInput, "skill must have a key", nil)
	}
	m := MetaOf(s)
	if meta != nil {
		m = *meta
		m.Key = s.Key()
	}
	return r.add(&entry{meta: m, instance: s})
}

// RegisterFactory stores a skill built on first Get and cached afterwards.
func (r *Registry) RegisterFactory(meta Meta, factory func() Skill) error {
	if meta.Key == "" {
		return errors.New(errors.CodeInvalidInput, "skill meta must have a key", nil)
	}
	if factory == nil {
		return errors.Newf(errors.CodeInvalidInput, "skill %q has no factory", meta.Key)
	}
	return r.add(&entry{meta: meta, factory: factory})
}

func (r *Registry) add(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.meta.Key]; exists {
		return errors.Newf(errors.CodeDuplicate, "skill %q already registered", e.meta.Key).
			WithContext("skill", e.meta.Key)
	}
	r.entries[e.meta.Key] = e
	r.order = append(r.order, e.meta.Key)
	return nil
}

// Get returns the skill for key, building it if it was registered lazily.
func (r *Registry) Get(key string) (Skill, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	if ok && e.instance != nil {
		r.mu.RUnlock()
		return e.instance, true
	}
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.instance == nil {
		e.instance = e.factory()
	}
	return e.instance, e.instance != nil
}

// All returns every skill in registration order, resolving lazy ones.
func (r *Registry) All() []Skill {
	out := make([]Skill, 0, len(r.Keys()))
	for _, key := range r.Keys() {
		if s, ok := r.Get(key); ok {
			out = append(out, s)
		}
	}
	return out
}

// Keys returns registered keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Meta returns the metadata of key without resolving the skill.
func (r *Registry) Meta(key string) (Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return Meta{}, false
	}
	return e.meta, true
}

// Metas returns all metadata in registration order.
func (r *Registry) Metas() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key].meta)
	}
	return out
}

// AllowByTag returns the keys whose metadata carries tag.
func (r *Registry) AllowByTag(tag string) []string {
	var out []string
	for _, m := range r.Metas() {
		if m.HasTag(tag) {
			out = append(out, m.Key)
		}
	}
	return out
}
