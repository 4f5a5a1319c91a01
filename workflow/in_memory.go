package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/convocore/core"
)

// InMemoryEngine is a volatile durable-execution Engine for tests and demos.
// Submissions deduplicate on the idempotency key; tests drive status
// transitions explicitly via SetStatus.
type InMemoryEngine struct {
	mu       sync.Mutex
	byKey    map[string]string
	statuses map[string]core.WorkflowStatus

	// SubmitErr, when set, makes the next Submit fail. Lets tests exercise
	// the trigger-retry path.
	SubmitErr error
}

var _ core.Engine = (*InMemoryEngine)(nil)

// NewInMemoryEngine constructs an empty in-memory engine.
func NewInMemoryEngine() *InMemoryEngine {
	return &InMemoryEngine{
		byKey:    map[string]string{},
		statuses: map[string]core.WorkflowStatus{},
	}
}

// Submit registers a pending process, returning the existing id when the
// idempotency key was seen before.
func (e *InMemoryEngine) Submit(_ context.Context, _ string, _ []byte, idempotencyKey string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.SubmitErr != nil {
		err := e.SubmitErr
		e.SubmitErr = nil
		return "", err
	}
	if id, ok := e.byKey[idempotencyKey]; ok {
		return id, nil
	}
	id := core.NewID()
	e.byKey[idempotencyKey] = id
	e.statuses[id] = core.WorkflowPending
	return id, nil
}

// Status returns the current lifecycle state.
func (e *InMemoryEngine) Status(_ context.Context, workflowID string) (core.WorkflowStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	status, ok := e.statuses[workflowID]
	if !ok {
		return "", fmt.Errorf("workflow %s: %w", workflowID, core.ErrNotFound)
	}
	return status, nil
}

// Cancel marks a non-terminal workflow cancelled.
func (e *InMemoryEngine) Cancel(_ context.Context, workflowID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	status, ok := e.statuses[workflowID]
	if !ok {
		return fmt.Errorf("workflow %s: %w", workflowID, core.ErrNotFound)
	}
	if status.Terminal() {
		return core.ErrAlreadyTerminal
	}
	e.statuses[workflowID] = core.WorkflowCancelled
	return nil
}

// SetStatus lets tests drive asynchronous status transitions.
func (e *InMemoryEngine) SetStatus(workflowID string, status core.WorkflowStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[workflowID] = status
}

// Count returns the number of distinct processes created.
func (e *InMemoryEngine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.statuses)
}
