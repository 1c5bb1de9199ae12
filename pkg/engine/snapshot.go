// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"math"
	"sort"
)

// SnapshotOptions bounds the planner facing snapshot.
type SnapshotOptions struct {
	MaxItems int
	Round    int
}

// DefaultSnapshotOptions keeps 16 keys and 2 decimals.
var DefaultSnapshotOptions = SnapshotOptions{MaxItems: 16, Round: 2}

// BuildSnapshot returns a compact, deterministic copy of observations:
// the first MaxItems keys in lexical order, floats rounded to Round
// decimals at every depth.
func BuildSnapshot(observations map[string]any, opts SnapshotOptions) map[string]any {
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultSnapshotOptions.MaxItems
	}
	if opts.Round < 0 {
		opts.Round = 0
	}
	keys := make([]string, 0, len(observations))
	for k := range observations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > opts.MaxItems {
		keys = keys[:opts.MaxItems]
	}

	factor := math.Pow(10, float64(opts.Round))
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = normalize(observations[k], factor)
	}
	return out
}

func normalize(v any, factor float64) any {
	switch t := v.(type) {
	case float64:
		return math.Round(t*factor) / factor
	case float32:
		return math.Round(float64(t)*factor) / factor
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e, factor)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e, factor)
		}
		return out
	default:
		return v
	}
}
