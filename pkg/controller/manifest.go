// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/kairos-npc/pkg/config"
	"github.com/jllopis/kairos-npc/pkg/errors"
	"github.com/jllopis/kairos-npc/pkg/governance"
	"github.com/jllopis/kairos-npc/pkg/planner"
)

// Planner kinds understood by manifests.
const (
	PlannerRule   = "rule"
	PlannerRemote = "remote"
)

// Manifest is the YAML form of a set of controllers.
type Manifest struct {
	Controllers []GroupManifest `yaml:"controllers"`
}

// GroupManifest declares one controller.
type GroupManifest struct {
	Group       string                  `yaml:"group"`
	Planner     string                  `yaml:"planner"`
	Fallback    string                  `yaml:"fallback,omitempty"`
	Allow       []string                `yaml:"allow"`
	TickEvery   string                  `yaml:"tick_every,omitempty"`
	Constraints config.ConstraintConfig `yaml:"constraints"`
}

// PlannerFactory builds a planner for a manifest planner kind.
type PlannerFactory func(kind string) (planner.Planner, error)

// RuleFactory only knows the deterministic planner.
func RuleFactory(kind string) (planner.Planner, error) {
	if kind == "" || kind == PlannerRule {
		return planner.NewRule(), nil
	}
	return nil, errors.Newf(errors.CodeConfiguration, "unknown planner kind %q", kind)
}

// LoadManifest reads a controller manifest file.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read controller manifest: %w", err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes a controller manifest.
func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, errors.New(errors.CodeConfiguration, "parse controller manifest", err)
	}
	return m, nil
}

// Definition converts g into a validated definition. The manifest allow
// list is merged with any allow entries of its constraints.
func (g GroupManifest) Definition(factory PlannerFactory) (Definition, error) {
	if factory == nil {
		factory = RuleFactory
	}
	primary, err := factory(g.Planner)
	if err != nil {
		return Definition{}, err
	}
	var fallback planner.Planner
	if g.Fallback != "" {
		if fallback, err = factory(g.Fallback); err != nil {
			return Definition{}, err
		}
	}
	var every time.Duration
	if g.TickEvery != "" {
		if every, err = time.ParseDuration(g.TickEvery); err != nil {
			return Definition{}, errors.Newf(errors.CodeConfiguration, "controller '%s': bad tick_every %q", g.Group, g.TickEvery)
		}
	}
	constraints := g.Constraints
	return Define(g.Group, func(b *Builder) {
		b.UsePlanner(primary, fallback).
			AllowSkills(g.Allow...).
			TickEvery(every).
			Constraints(func(p *governance.Policy) {
				governance.ApplyConfig(p, constraints)
			})
	})
}

// RegisterManifest registers every controller of m, stopping at the first
// error.
func (r *Runtime) RegisterManifest(m Manifest, factory PlannerFactory) error {
	for _, g := range m.Controllers {
		def, err := g.Definition(factory)
		if err != nil {
			return err
		}
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
