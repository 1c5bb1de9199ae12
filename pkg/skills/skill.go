// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills defines the Skill contract and the registry that maps
// skill keys to handlers.
package skills

import (
	"context"

	"github.com/jllopis/kairos-npc/pkg/core"
)

// Skill is a keyed action an agent can be told to run.
// Execute must not block past ctx and reports failure through the Result.
type Skill interface {
	Key() string
	Execute(ctx context.Context, sc *core.SkillContext, args any) core.Result
}

// Tagged skills expose metadata tags used by AllowByTag.
type Tagged interface {
	Tags() []string
}

// Exclusive skills belong to a mutex group.
type Exclusive interface {
	Mutex() string
}

// Validator skills normalize their arguments before execution.
// The returned value replaces the raw args.
type Validator interface {
	Validate(input any) (any, error)
}

// Described skills carry a human description, shown by the admin API.
type Described interface {
	Description() string
}

// Meta is the static metadata of a registered skill.
type Meta struct {
	Key         string   `json:"key"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Mutex       string   `json:"mutex,omitempty"`
}

// HasTag reports whether m carries tag.
func (m Meta) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MetaOf derives metadata from the optional interfaces s implements.
func MetaOf(s Skill) Meta {
	m := Meta{Key: s.Key()}
	if t, ok := s.(Tagged); ok {
		m.Tags = append([]string(nil), t.Tags()...)
	}
	if x, ok := s.(Exclusive); ok {
		m.Mutex = x.Mutex()
	}
	if d, ok := s.(Described); ok {
		m.Description = d.Description()
	}
	return m
}

// RunFunc is the body of a Func skill.
type RunFunc func(ctx context.Context, sc *core.SkillContext, args any) core.Result

// ValidateFunc normalizes Func skill arguments.
type ValidateFunc func(input any) (any, error)

// Func adapts plain functions to the Skill interfaces.
type Func struct {
	Meta
	Run   RunFunc
	Check ValidateFunc
}

// NewFunc builds a Func skill.
func NewFunc(meta Meta, run RunFunc) *Func {
	return &Func{Meta: meta, Run: run}
}

// WithValidator attaches an argument validator.
func (f *Func) WithValidator(v ValidateFunc) *Func {
	f.Check = v
	return f
}

func (f *Func) Key() string         { return f.Meta.Key }
func (f *Func) Tags() []string      { return f.Meta.Tags }
func (f *Func) Mutex() string       { return f.Meta.Mutex }
func (f *Func) Description() string { return f.Meta.Description }

func (f *Func) Execute(ctx context.Context, sc *core.SkillContext, args any) core.Result {
	if f.Run == nil {
		return core.Ok(nil)
	}
	return f.Run(ctx, sc, args)
}

// Validate implements Validator. Without a check function args pass through.
func (f *Func) Validate(input any) (any, error) {
	if f.Check == nil {
		return input, nil
	}
	return f.Check(input)
}
