// Package router selects a domain handler for each turn. Selection filters
// the registry by conversation kind, prefers higher declared priority,
// breaks ties by most recent successful use for the kind, and falls back to
// the generic handler when nothing matches or the circuit breaker has
// excluded every candidate.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/handler"
	"github.com/hupe1980/convocore/logging"
	"github.com/hupe1980/convocore/recovery"
)

// Options configures a Router.
type Options struct {
	// Breaker excludes unhealthy handlers from selection. Nil disables
	// breaker checks.
	Breaker *recovery.Breaker
	// Clock overrides time.Now for tests.
	Clock func() time.Time

	Logger logging.Logger
}

// Router binds conversations to domain handlers.
type Router struct {
	registry *handler.Registry
	breaker  *recovery.Breaker
	now      func() time.Time
	logger   logging.Logger

	mu          sync.RWMutex
	lastSuccess map[core.Kind]map[string]time.Time
}

// New constructs a Router over the given registry.
func New(registry *handler.Registry, optFns ...func(o *Options)) *Router {
	opts := Options{Clock: time.Now, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		registry:    registry,
		breaker:     opts.Breaker,
		now:         opts.Clock,
		logger:      opts.Logger,
		lastSuccess: map[core.Kind]map[string]time.Time{},
	}
}

// Select picks a handler for the conversation kind and returns the binding.
// The reason field explains the pick in human-readable form.
func (r *Router) Select(ctx context.Context, kind core.Kind, intent *core.Intent) *core.AgentBinding {
	candidates := r.registry.ForKind(kind)

	// Breaker exclusion happens before priority so a tripped specialist
	// forces the fallback proactively.
	if r.breaker != nil {
		allowed := candidates[:0]
		for _, h := range candidates {
			if r.breaker.Allow(ctx, h.Tag()) {
				allowed = append(allowed, h)
			}
		}
		candidates = allowed
	}

	now := r.now().UTC()
	switch len(candidates) {
	case 0:
		fb := r.registry.Fallback()
		return &core.AgentBinding{
			Tag:     fb.Tag(),
			Score:   0,
			Reason:  "no specialized handler available",
			BoundAt: now,
		}
	case 1:
		return &core.AgentBinding{
			Tag:     candidates[0].Tag(),
			Score:   score(candidates[0], intent),
			Reason:  "single capability match",
			BoundAt: now,
		}
	}

	best := candidates[0]
	for _, h := range candidates[1:] {
		if h.Priority() > best.Priority() {
			best = h
			continue
		}
		if h.Priority() == best.Priority() && r.successAt(kind, h.Tag()).After(r.successAt(kind, best.Tag())) {
			best = h
		}
	}
	return &core.AgentBinding{
		Tag:     best.Tag(),
		Score:   score(best, intent),
		Reason:  "highest priority among capability matches",
		BoundAt: now,
	}
}

// Switch re-runs selection for an explicitly requested tag, preserving
// context slots (the caller keeps the conversation's slot map untouched).
// Requesting an unregistered tag returns core.ErrNotFound.
func (r *Router) Switch(_ context.Context, tag string) (*core.AgentBinding, error) {
	h, err := r.registry.MustGet(tag)
	if err != nil {
		return nil, err
	}
	return &core.AgentBinding{
		Tag:     h.Tag(),
		Score:   1,
		Reason:  "explicit switch request",
		BoundAt: r.now().UTC(),
	}, nil
}

// FallbackBinding returns a binding to the generic fallback handler with the
// given reason, used by recovery strategy 2.
func (r *Router) FallbackBinding(reason string) *core.AgentBinding {
	fb := r.registry.Fallback()
	return &core.AgentBinding{
		Tag:     fb.Tag(),
		Score:   0,
		Reason:  reason,
		BoundAt: r.now().UTC(),
	}
}

// RecordSuccess notes a successful handler invocation for the kind; feeds the
// most-recent-successful-use tie-break.
func (r *Router) RecordSuccess(kind core.Kind, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byTag, ok := r.lastSuccess[kind]
	if !ok {
		byTag = map[string]time.Time{}
		r.lastSuccess[kind] = byTag
	}
	byTag[tag] = r.now().UTC()
}

func (r *Router) successAt(kind core.Kind, tag string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSuccess[kind][tag]
}

func score(h core.Handler, intent *core.Intent) float64 {
	s := 0.5 + float64(h.Priority())/100
	if intent != nil && intent.Confidence > 0 {
		s = (s + intent.Confidence) / 2
	}
	if s > 1 {
		s = 1
	}
	return s
}
