// Package handler provides the domain handler registry and the built-in
// generic fallback handler. Handlers are supplied by the embedding
// application and registered at startup; the registry is read-mostly and
// safe for concurrent use.
package handler

import (
	"fmt"
	"sync"

	"github.com/hupe1980/convocore/core"
)

// Registry maps capability tags to domain handler implementations. A
// designated fallback handler is always present and serves conversations no
// specialized handler declares capability for.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]core.Handler
	fallback core.Handler
}

// NewRegistry constructs a registry seeded with the built-in fallback
// handler. The fallback can be replaced via SetFallback.
func NewRegistry() *Registry {
	fb := NewFallback()
	return &Registry{
		handlers: map[string]core.Handler{fb.Tag(): fb},
		fallback: fb,
	}
}

// Register adds a handler under its tag, replacing any previous registration.
func (r *Registry) Register(h core.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Tag()] = h
}

// SetFallback replaces the designated fallback handler and registers it.
func (r *Registry) SetFallback(h core.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Tag()] = h
	r.fallback = h
}

// Get returns the handler registered under tag.
func (r *Registry) Get(tag string) (core.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[tag]
	return h, ok
}

// Fallback returns the designated generic handler.
func (r *Registry) Fallback() core.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// ForKind returns all handlers declaring capability for the given
// conversation kind, fallback excluded.
func (r *Registry) ForKind(kind core.Kind) []core.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []core.Handler
	for _, h := range r.handlers {
		if h == r.fallback {
			continue
		}
		for _, cap := range h.Capabilities() {
			if cap == kind {
				matches = append(matches, h)
				break
			}
		}
	}
	return matches
}

// Tags returns all registered capability tags.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.handlers))
	for tag := range r.handlers {
		tags = append(tags, tag)
	}
	return tags
}

// MustGet returns the handler for tag or an error suitable for the
// switch-handler boundary.
func (r *Registry) MustGet(tag string) (core.Handler, error) {
	h, ok := r.Get(tag)
	if !ok {
		return nil, fmt.Errorf("handler %s: %w", tag, core.ErrNotFound)
	}
	return h, nil
}
