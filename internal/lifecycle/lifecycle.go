// Package lifecycle tracks the host application's foreground/background state
// and fans transitions out to subscribers.
package lifecycle

import (
	"fmt"
	"sync"
)

// State is the host application's lifecycle state.
type State string

const (
	Active     State = "active"
	Background State = "background"
)

// Parse validates a state name received from the host.
func Parse(s string) (State, error) {
	switch State(s) {
	case Active, Background:
		return State(s), nil
	default:
		return "", fmt.Errorf("lifecycle: unknown state %q", s)
	}
}

// Source reports the current lifecycle state.
type Source interface {
	State() State
}

// Monitor holds the current state and notifies subscribers on every
// transition. Subscribers run synchronously, in subscription order, on the
// goroutine that called Set.
type Monitor struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	order  []int
	nextID int
}

// NewMonitor creates a monitor starting in the given state.
func NewMonitor(initial State) *Monitor {
	return &Monitor{state: initial, subs: make(map[int]func(State))}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Set records a new state. It reports whether a transition happened; setting
// the current state again is a no-op.
func (m *Monitor) Set(s State) bool {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return false
	}
	m.state = s
	fns := make([]func(State), 0, len(m.order))
	for _, id := range m.order {
		if fn, ok := m.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
	return true
}

// Subscribe registers fn for future transitions and returns a function that
// removes the subscription.
func (m *Monitor) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.order = append(m.order, id)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}
