// Package registry routes the outcome of an asynchronous unit of work to the
// callbacks that registered interest in it, keyed by correlation id.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CorrelationID links an asynchronous unit of work to its listeners.
type CorrelationID string

// RegistrationID identifies a single listener registration.
type RegistrationID uint64

// Callback receives the result of the unit of work.
type Callback func(result any)

// StateHook persists the outcome before listeners run, so a listener that
// reads durable state observes the result.
type StateHook func(ctx context.Context, id CorrelationID, result any) error

type registration struct {
	id    RegistrationID
	key   CorrelationID
	scope string
	cb    Callback
}

// Registry maps correlation ids to listeners. Each registration fires at most
// once and is removed when it fires.
type Registry struct {
	mu     sync.Mutex
	byKey  map[CorrelationID][]*registration
	byID   map[RegistrationID]*registration
	scopes map[string]map[RegistrationID]struct{}
	nextID RegistrationID

	hook   StateHook
	logger *slog.Logger
}

// Option customizes Registry construction.
type Option func(*Registry)

// WithStateHook installs the durable-state update run by Notify.
func WithStateHook(h StateHook) Option {
	return func(r *Registry) { r.hook = h }
}

// WithLogger injects a logger for callback failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New constructs an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byKey:  make(map[CorrelationID][]*registration),
		byID:   make(map[RegistrationID]*registration),
		scopes: make(map[string]map[RegistrationID]struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// AddListener registers cb for id. A non-empty scope groups the registration
// for bulk removal with RemoveScope.
func (r *Registry) AddListener(id CorrelationID, cb Callback, scope string) RegistrationID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	reg := &registration{id: r.nextID, key: id, scope: scope, cb: cb}
	r.byKey[id] = append(r.byKey[id], reg)
	r.byID[reg.id] = reg
	if scope != "" {
		set, ok := r.scopes[scope]
		if !ok {
			set = make(map[RegistrationID]struct{})
			r.scopes[scope] = set
		}
		set[reg.id] = struct{}{}
	}
	return reg.id
}

// RemoveListener drops a registration. It reports whether it was present.
func (r *Registry) RemoveListener(rid RegistrationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(rid)
}

// RemoveScope drops every registration owned by scope and returns how many
// were removed.
func (r *Registry) RemoveScope(scope string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.scopes[scope]
	n := 0
	for rid := range set {
		if r.removeLocked(rid) {
			n++
		}
	}
	delete(r.scopes, scope)
	return n
}

// Count returns the number of live registrations for id.
func (r *Registry) Count(id CorrelationID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey[id])
}

// Notify delivers result to every listener registered for id and returns how
// many fired. The state hook runs first; its failure is logged and does not
// stop delivery. A panicking listener is logged and skipped.
func (r *Registry) Notify(ctx context.Context, id CorrelationID, result any) int {
	if r.hook != nil {
		if err := r.hook(ctx, id, result); err != nil {
			r.logger.Error("state update before notify failed",
				slog.String("correlation_id", string(id)),
				slog.String("error", err.Error()),
			)
		}
	}

	r.mu.Lock()
	regs := r.byKey[id]
	delete(r.byKey, id)
	for _, reg := range regs {
		delete(r.byID, reg.id)
		r.dropFromScopeLocked(reg)
	}
	r.mu.Unlock()

	for _, reg := range regs {
		r.fire(reg, result)
	}
	return len(regs)
}

func (r *Registry) fire(reg *registration, result any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener callback panicked",
				slog.String("correlation_id", string(reg.key)),
				slog.Uint64("registration_id", uint64(reg.id)),
				slog.String("error", fmt.Sprint(rec)),
			)
		}
	}()
	reg.cb(result)
}

func (r *Registry) removeLocked(rid RegistrationID) bool {
	reg, ok := r.byID[rid]
	if !ok {
		return false
	}
	delete(r.byID, rid)

	regs := r.byKey[reg.key]
	for i, other := range regs {
		if other.id == rid {
			regs = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(r.byKey, reg.key)
	} else {
		r.byKey[reg.key] = regs
	}
	r.dropFromScopeLocked(reg)
	return true
}

func (r *Registry) dropFromScopeLocked(reg *registration) {
	if reg.scope == "" {
		return
	}
	if set, ok := r.scopes[reg.scope]; ok {
		delete(set, reg.id)
		if len(set) == 0 {
			delete(r.scopes, reg.scope)
		}
	}
}
