package upload

import (
	"sort"
	"sync"
)

// GuardState is a snapshot of the guard's mutex state.
type GuardState struct {
	IsUploading bool     `json:"is_uploading"`
	Queue       []string `json:"queue"`
	Current     string   `json:"current,omitempty"`
}

// Guard serializes physical transfers. It is a conservative global lock: while
// any transfer is in flight no other may start, and a resource already queued
// is never started twice. Completion is fanned out to OnFinish callbacks.
type Guard struct {
	mu        sync.Mutex
	uploading bool
	queued    map[string]struct{}
	current   string
	waiters   map[string][]func(ok bool)
}

// NewGuard returns an idle guard.
func NewGuard() *Guard {
	return &Guard{
		queued:  make(map[string]struct{}),
		waiters: make(map[string][]func(bool)),
	}
}

// CanStart reports whether a transfer of key may begin now.
func (g *Guard) CanStart(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.uploading {
		return false
	}
	_, queued := g.queued[key]
	return !queued
}

// Start marks key as in flight.
func (g *Guard) Start(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploading = true
	g.current = key
	g.queued[key] = struct{}{}
}

// TryStart is CanStart followed by Start under one lock acquisition.
func (g *Guard) TryStart(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.uploading {
		return false
	}
	if _, queued := g.queued[key]; queued {
		return false
	}
	g.uploading = true
	g.current = key
	g.queued[key] = struct{}{}
	return true
}

// Finish clears the in-flight state for key and synchronously runs the
// callbacks registered for it with ok.
func (g *Guard) Finish(key string, ok bool) {
	g.mu.Lock()
	if g.current == key {
		g.uploading = false
		g.current = ""
	}
	delete(g.queued, key)
	cbs := g.waiters[key]
	delete(g.waiters, key)
	g.mu.Unlock()

	for _, cb := range cbs {
		cb(ok)
	}
}

// OnFinish registers cb to run when key finishes.
func (g *Guard) OnFinish(key string, cb func(ok bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waiters[key] = append(g.waiters[key], cb)
}

// IsQueued reports whether key is queued or in flight.
func (g *Guard) IsQueued(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.queued[key]
	return ok
}

// Reset force-clears all state, dropping pending callbacks. Manual recovery only.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploading = false
	g.current = ""
	g.queued = make(map[string]struct{})
	g.waiters = make(map[string][]func(bool))
}

// State returns a snapshot of the guard.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	q := make([]string, 0, len(g.queued))
	for k := range g.queued {
		q = append(q, k)
	}
	sort.Strings(q)
	return GuardState{IsUploading: g.uploading, Queue: q, Current: g.current}
}
