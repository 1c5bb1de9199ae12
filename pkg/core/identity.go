// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the domain types shared by the NPC runtime packages:
// identities, goals, per-agent scratch state, skill results and the
// context handed to planners and skills.
package core

import (
	"encoding/json"
	"math"
)

// Identity names one live entity. ID is the runtime key; NetID and Handle
// are owned by the entity collaborator and may be zero until resolved.
type Identity struct {
	ID     string `json:"id"`
	NetID  int64  `json:"netId,omitempty"`
	Handle int64  `json:"handle,omitempty"`
}

// Goal is the planner facing description of what an agent is for.
type Goal struct {
	ID   string `json:"id"`
	Hint string `json:"hint,omitempty"`
}

// Vec3 is a world position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the euclidean distance between v and o.
func (v Vec3) Distance(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Map returns v as a generic map, the shape planners put in skill args.
func (v Vec3) Map() map[string]any {
	return map[string]any{"x": v.X, "y": v.Y, "z": v.Z}
}

// AsFloat converts any JSON or Go numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// AsVec3 accepts a Vec3, *Vec3 or a map with numeric x, y and z keys.
func AsVec3(v any) (Vec3, bool) {
	switch p := v.(type) {
	case Vec3:
		return p, true
	case *Vec3:
		if p == nil {
			return Vec3{}, false
		}
		return *p, true
	case map[string]any:
		x, okX := AsFloat(p["x"])
		y, okY := AsFloat(p["y"])
		z, okZ := AsFloat(p["z"])
		if !okX || !okY || !okZ {
			return Vec3{}, false
		}
		return Vec3{X: x, Y: y, Z: z}, true
	default:
		return Vec3{}, false
	}
}
