// Package lifecycle provides a release scope: named hooks that run exactly
// once when the owning process or view is torn down.
package lifecycle

import (
	"sync"
)

type hook struct {
	name string
	fn   func()
}

// Scope collects teardown hooks. Release runs them in reverse registration
// order; hooks registered after Release run immediately.
type Scope struct {
	mu       sync.Mutex
	next     uint64
	hooks    map[uint64]hook
	order    []uint64
	released bool
}

func NewScope() *Scope {
	return &Scope{hooks: make(map[uint64]hook)}
}

// Register adds fn under name and returns a func that removes it. The
// returned func is safe to call more than once.
func (s *Scope) Register(name string, fn func()) (deregister func()) {
	if fn == nil {
		return func() {}
	}
	var once sync.Once
	wrapped := func() { once.Do(fn) }

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		wrapped()
		return func() {}
	}
	id := s.next
	s.next++
	s.hooks[id] = hook{name: name, fn: wrapped}
	s.order = append(s.order, id)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.hooks, id)
		s.mu.Unlock()
	}
}

// Release runs every registered hook once. Subsequent calls are no-ops.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	pending := make([]hook, 0, len(s.hooks))
	for i := len(s.order) - 1; i >= 0; i-- {
		if h, ok := s.hooks[s.order[i]]; ok {
			pending = append(pending, h)
		}
	}
	s.hooks = make(map[uint64]hook)
	s.order = nil
	s.mu.Unlock()

	for _, h := range pending {
		h.fn()
	}
}

// Released reports whether Release has run.
func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Names lists the currently registered hooks in registration order.
func (s *Scope) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.hooks))
	for _, id := range s.order {
		if h, ok := s.hooks[id]; ok {
			out = append(out, h.name)
		}
	}
	return out
}
