package core

import (
	"context"
	"time"
)

// StateStore is the durable key/value contract the orchestration core
// requires. Implementations hold conversations, workflow references and
// recovery attempts with per-key expiry.
//
// Contract:
//   - Load of an unknown or expired id returns ErrNotFound
//   - Save with a stale expected version returns ErrVersionConflict and must
//     not overwrite; the caller reloads and retries
//   - A store-unavailable condition surfaces as StoreUnavailableError, never
//     as ErrNotFound, so recovery can distinguish "no state yet" from "the
//     store is down"
//   - Workflow references carry a longer TTL than conversations so status
//     remains queryable after a conversation naturally expires
type StateStore interface {
	// Load returns the conversation for id.
	Load(ctx context.Context, id string) (*Conversation, error)
	// Save persists conv if its stored version equals expectedVersion, then
	// stamps conv.Flow.Version = expectedVersion+1. expectedVersion 0 means
	// "create"; creating over an existing key is a version conflict.
	Save(ctx context.Context, conv *Conversation, expectedVersion int64) error
	// Delete removes the conversation. Deleting an absent key is not an error.
	Delete(ctx context.Context, id string) error

	// SaveWorkflowRef persists a workflow instance reference keyed by its
	// idempotency key and by its workflow id.
	SaveWorkflowRef(ctx context.Context, ref *WorkflowInstance) error
	// WorkflowRefByKey returns the instance previously stored under the
	// idempotency key, or ErrNotFound.
	WorkflowRefByKey(ctx context.Context, idempotencyKey string) (*WorkflowInstance, error)
	// WorkflowRef returns the instance by workflow id, or ErrNotFound.
	WorkflowRef(ctx context.Context, workflowID string) (*WorkflowInstance, error)

	// AppendRecoveryAttempt records one applied recovery strategy.
	AppendRecoveryAttempt(ctx context.Context, attempt RecoveryAttempt) error
	// RecoveryAttempts returns attempts recorded at or after since, oldest
	// first. A zero since returns the full retained window.
	RecoveryAttempts(ctx context.Context, since time.Time) ([]RecoveryAttempt, error)
	// PruneRecoveryAttempts drops attempts recorded before cutoff.
	PruneRecoveryAttempts(ctx context.Context, cutoff time.Time) error
}
