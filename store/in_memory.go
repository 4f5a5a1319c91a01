package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/convocore/core"
)

// InMemoryOptions configures an InMemoryStore.
type InMemoryOptions struct {
	// ConversationTTL is the idle expiry for conversation keys.
	ConversationTTL time.Duration
	// WorkflowRefTTL is the expiry for workflow references. Should exceed
	// ConversationTTL so status outlives the conversation.
	WorkflowRefTTL time.Duration
	// Clock overrides time.Now, letting tests simulate TTL expiry.
	Clock func() time.Time
}

type memEntry struct {
	conv      *core.Conversation
	expiresAt time.Time
}

type refEntry struct {
	ref       *core.WorkflowInstance
	expiresAt time.Time
}

// InMemoryStore is a volatile StateStore implementation storing conversations
// in a process local map. It is safe for concurrent access and best suited
// for tests or ephemeral demo servers. Each returned conversation is cloned
// to prevent external mutation of internal state.
type InMemoryStore struct {
	mu        sync.RWMutex
	convs     map[string]*memEntry
	refsByID  map[string]*refEntry
	refsByKey map[string]*refEntry
	attempts  []core.RecoveryAttempt

	conversationTTL time.Duration
	workflowRefTTL  time.Duration
	now             func() time.Time
}

var _ core.StateStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory state store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{
		ConversationTTL: 24 * time.Hour,
		WorkflowRefTTL:  72 * time.Hour,
		Clock:           time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		convs:           make(map[string]*memEntry),
		refsByID:        make(map[string]*refEntry),
		refsByKey:       make(map[string]*refEntry),
		conversationTTL: opts.ConversationTTL,
		workflowRefTTL:  opts.WorkflowRefTTL,
		now:             opts.Clock,
	}
}

// Load returns a clone of the stored conversation or core.ErrNotFound when
// the key is absent or expired.
func (s *InMemoryStore) Load(_ context.Context, id string) (*core.Conversation, error) {
	s.mu.RLock()
	entry, ok := s.convs[id]
	s.mu.RUnlock()
	if !ok || s.now().After(entry.expiresAt) {
		return nil, core.ErrNotFound
	}
	return entry.conv.Clone(), nil
}

// Save applies the optimistic version check before persisting a clone and
// refreshes the idle TTL.
func (s *InMemoryStore) Save(_ context.Context, conv *core.Conversation, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.convs[conv.ID]
	if ok && s.now().After(entry.expiresAt) {
		delete(s.convs, conv.ID)
		ok = false
	}
	switch {
	case !ok && expectedVersion != 0:
		return core.ErrVersionConflict
	case ok && entry.conv.Flow.Version != expectedVersion:
		return core.ErrVersionConflict
	}

	conv.Flow.Version = expectedVersion + 1
	s.convs[conv.ID] = &memEntry{conv: conv.Clone(), expiresAt: s.now().Add(s.conversationTTL)}
	return nil
}

// Delete removes the conversation. Absent keys are not an error.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
	return nil
}

// SaveWorkflowRef stores the reference under both the workflow id and the
// idempotency key.
func (s *InMemoryStore) SaveWorkflowRef(_ context.Context, ref *core.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ref
	entry := &refEntry{ref: &cp, expiresAt: s.now().Add(s.workflowRefTTL)}
	s.refsByID[ref.ID] = entry
	if ref.IdempotencyKey != "" {
		s.refsByKey[ref.IdempotencyKey] = entry
	}
	return nil
}

// WorkflowRefByKey returns the instance stored under the idempotency key.
func (s *InMemoryStore) WorkflowRefByKey(_ context.Context, key string) (*core.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.refsByKey[key]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, core.ErrNotFound
	}
	cp := *entry.ref
	return &cp, nil
}

// WorkflowRef returns the instance by workflow id.
func (s *InMemoryStore) WorkflowRef(_ context.Context, workflowID string) (*core.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.refsByID[workflowID]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, core.ErrNotFound
	}
	cp := *entry.ref
	return &cp, nil
}

// AppendRecoveryAttempt records one applied recovery strategy.
func (s *InMemoryStore) AppendRecoveryAttempt(_ context.Context, attempt core.RecoveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = s.now()
	}
	s.attempts = append(s.attempts, attempt)
	return nil
}

// RecoveryAttempts returns attempts at or after since, oldest first.
func (s *InMemoryStore) RecoveryAttempts(_ context.Context, since time.Time) ([]core.RecoveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]core.RecoveryAttempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		if since.IsZero() || !a.Timestamp.Before(since) {
			res = append(res, a)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	return res, nil
}

// PruneRecoveryAttempts drops attempts recorded before cutoff.
func (s *InMemoryStore) PruneRecoveryAttempts(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.attempts[:0]
	for _, a := range s.attempts {
		if !a.Timestamp.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	s.attempts = kept
	return nil
}
