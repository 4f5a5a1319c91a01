package core

import "context"

// WorkflowStatus is the lifecycle state of a durable business process as
// reported by the external durable-execution engine.
type WorkflowStatus string

const (
	// WorkflowPending means the engine accepted the hand-off but has not
	// started executing.
	WorkflowPending WorkflowStatus = "pending"
	// WorkflowRunning means a worker is executing the process.
	WorkflowRunning WorkflowStatus = "running"
	// WorkflowSucceeded is terminal success.
	WorkflowSucceeded WorkflowStatus = "succeeded"
	// WorkflowFailed is terminal failure (engine retries exhausted).
	WorkflowFailed WorkflowStatus = "failed"
	// WorkflowCancelled is terminal cancellation.
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowSucceeded || s == WorkflowFailed || s == WorkflowCancelled
}

// WorkflowInstance is the core's durable reference to a triggered business
// process. The instance is correlated to, but not owned by, a conversation:
// a long-running workflow may outlive the conversation that spawned it.
type WorkflowInstance struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Kind           string         `json:"kind"`
	Payload        map[string]any `json:"payload,omitempty"`
	Status         WorkflowStatus `json:"status"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Engine is the narrow contract of the external durable-execution engine.
// The core hands off kind/payload and relays identity and status; it never
// executes workflow steps itself.
type Engine interface {
	// Submit enqueues a process. Submitting the same idempotency key twice
	// must yield the same workflow id and exactly one underlying process.
	Submit(ctx context.Context, kind string, payload []byte, idempotencyKey string) (string, error)
	// Status reports the current lifecycle state of a workflow.
	Status(ctx context.Context, workflowID string) (WorkflowStatus, error)
	// Cancel requests termination. Returns ErrAlreadyTerminal when the
	// workflow has already reached a terminal status.
	Cancel(ctx context.Context, workflowID string) error
}
