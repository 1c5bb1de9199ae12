// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "sync"

// ExecutorRegistry tracks executors that announced themselves ready and,
// through an optional peer source, every other connected peer.
type ExecutorRegistry struct {
	mu    sync.RWMutex
	ready []string
	peers func() []string
}

// NewExecutorRegistry creates a registry. peers may be nil.
func NewExecutorRegistry(peers func() []string) *ExecutorRegistry {
	return &ExecutorRegistry{peers: peers}
}

// MarkReady records id as a ready executor.
func (r *ExecutorRegistry) MarkReady(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.ready {
		if existing == id {
			return
		}
	}
	r.ready = append(r.ready, id)
}

// Drop forgets id, typically on disconnect.
func (r *ExecutorRegistry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.ready {
		if existing == id {
			r.ready = append(r.ready[:i:i], r.ready[i+1:]...)
			return
		}
	}
}

// Candidates returns ready executors first, then known peers, without
// duplicates.
func (r *ExecutorRegistry) Candidates() []string {
	r.mu.RLock()
	out := append([]string(nil), r.ready...)
	r.mu.RUnlock()

	seen := make(map[string]struct{}, len(out))
	for _, id := range out {
		seen[id] = struct{}{}
	}
	if r.peers != nil {
		for _, id := range r.peers() {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// ChooseAny returns the first candidate.
func (r *ExecutorRegistry) ChooseAny() (string, bool) {
	c := r.Candidates()
	if len(c) == 0 {
		return "", false
	}
	return c[0], true
}
