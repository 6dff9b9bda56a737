// Package hooks models the lifecycle signals a host build exposes to
// post-build steps.
package hooks

import (
	"context"
	"sync"
)

// BuildDone is the signal a host fires once its build pipeline finished.
const BuildDone = "buildDone"

// Func is a callback tapped into a hook.
type Func func(ctx context.Context) error

type tap struct {
	owner string
	fn    Func
}

// Hook is a named signal with ordered callbacks.
type Hook struct {
	name string
	mu   sync.Mutex
	taps []tap
}

// NewHook creates an empty hook.
func NewHook(name string) *Hook {
	return &Hook{name: name}
}

// Name returns the signal name.
func (h *Hook) Name() string {
	return h.name
}

// Tap registers fn under owner. Callbacks run in registration order.
func (h *Hook) Tap(owner string, fn Func) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps = append(h.taps, tap{owner: owner, fn: fn})
}

// Owners lists the owners of all registered callbacks.
func (h *Hook) Owners() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	owners := make([]string, 0, len(h.taps))
	for _, t := range h.taps {
		owners = append(owners, t.owner)
	}
	return owners
}

// Call runs every callback and stops at the first error, which is
// returned as is.
func (h *Hook) Call(ctx context.Context) error {
	h.mu.Lock()
	taps := append([]tap(nil), h.taps...)
	h.mu.Unlock()

	for _, t := range taps {
		if err := t.fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Host exposes the hooks a build system supports.
type Host interface {
	Hook(name string) (*Hook, bool)
}

// Registry is a Host with a fixed set of hooks.
type Registry struct {
	hooks map[string]*Hook
}

// NewRegistry creates a registry that supports the named hooks.
func NewRegistry(names ...string) *Registry {
	r := &Registry{hooks: make(map[string]*Hook, len(names))}
	for _, n := range names {
		r.hooks[n] = NewHook(n)
	}
	return r
}

// Hook returns the named hook, or false when the registry does not support it.
func (r *Registry) Hook(name string) (*Hook, bool) {
	h, ok := r.hooks[name]
	return h, ok
}
