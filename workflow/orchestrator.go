// Package workflow triggers and tracks durable business processes spawned by
// completed conversation turns. The orchestrator never executes workflow
// steps itself: it hands kind and payload to an external durable-execution
// engine and relays identity and status. Hand-off is fire-and-forget from the
// conversation's perspective; eventual success or failure is reported
// out-of-band through the event notifier.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/logging"
	"github.com/hupe1980/convocore/notify"
)

// IdempotencyKey derives the deterministic key for a trigger so a retried
// hand-off after a transient failure cannot create a duplicate process.
func IdempotencyKey(conversationID string, seq int, kind string) string {
	return fmt.Sprintf("%s:%d:%s", conversationID, seq, kind)
}

// Options configures an Orchestrator.
type Options struct {
	// PollInterval drives the out-of-band status watcher.
	PollInterval time.Duration

	Notifier *notify.Notifier
	Logger   logging.Logger
}

// Orchestrator exposes the trigger/status/cancel contract to the flow
// machine and persists workflow references in the state store.
type Orchestrator struct {
	engine core.Engine
	store  core.StateStore

	pollInterval time.Duration
	notifier     *notify.Notifier
	logger       logging.Logger
}

// New constructs an Orchestrator over the given engine and state store.
func New(engine core.Engine, store core.StateStore, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{PollInterval: 5 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		engine:       engine,
		store:        store,
		pollInterval: opts.PollInterval,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
	}
}

// Trigger hands a business process to the durable-execution engine. Calling
// it twice with the same (conversation, turn, kind) yields the same workflow
// id and exactly one underlying process: a stored reference short-circuits
// the hand-off, and the engine deduplicates on the idempotency key besides.
func (o *Orchestrator) Trigger(ctx context.Context, conversationID string, seq int, kind string, payload map[string]any) (*core.WorkflowInstance, error) {
	key := IdempotencyKey(conversationID, seq, kind)

	if existing, err := o.store.WorkflowRefByKey(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &core.WorkflowTriggerError{Kind: kind, Err: fmt.Errorf("encode payload: %w", err)}
	}

	start := time.Now()
	workflowID, err := o.engine.Submit(ctx, kind, raw, key)
	if err != nil {
		return nil, &core.WorkflowTriggerError{Kind: kind, Err: err}
	}

	ref := &core.WorkflowInstance{
		ID:             workflowID,
		ConversationID: conversationID,
		Kind:           kind,
		Payload:        payload,
		Status:         core.WorkflowPending,
		IdempotencyKey: key,
	}
	if err := o.store.SaveWorkflowRef(ctx, ref); err != nil {
		// The process exists in the engine; a re-trigger with the same key
		// finds it there rather than duplicating it.
		o.logger.Warn("workflow ref not persisted", "workflow_id", workflowID, "error", err)
	}

	o.logger.Info("workflow triggered", "kind", kind, "workflow_id", workflowID, "conversation_id", conversationID, "duration", time.Since(start).String())
	if o.notifier != nil {
		o.notifier.Publish(notify.TopicWorkflowTriggered, map[string]any{
			"workflow_id":     workflowID,
			"conversation_id": conversationID,
			"kind":            kind,
		})
	}
	return ref, nil
}

// Status relays the engine's view of the workflow.
func (o *Orchestrator) Status(ctx context.Context, workflowID string) (core.WorkflowStatus, error) {
	return o.engine.Status(ctx, workflowID)
}

// Cancel requests termination of a workflow. The originating conversation
// ending does not implicitly cancel its workflows; this is the explicit path.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	return o.engine.Cancel(ctx, workflowID)
}

// Ref returns the stored reference for a workflow id.
func (o *Orchestrator) Ref(ctx context.Context, workflowID string) (*core.WorkflowInstance, error) {
	return o.store.WorkflowRef(ctx, workflowID)
}

// Watch polls the engine until the workflow reaches a terminal status or the
// context is cancelled, publishing every status change through the notifier.
// Intended to run in its own goroutine.
func (o *Orchestrator) Watch(ctx context.Context, workflowID string) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	var last core.WorkflowStatus
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := o.engine.Status(ctx, workflowID)
			if err != nil {
				o.logger.Warn("workflow status poll failed", "workflow_id", workflowID, "error", err)
				continue
			}
			if status != last {
				last = status
				if ref, err := o.store.WorkflowRef(ctx, workflowID); err == nil {
					ref.Status = status
					_ = o.store.SaveWorkflowRef(ctx, ref)
				}
				if o.notifier != nil {
					o.notifier.Publish(notify.TopicWorkflowStatusChanged, map[string]any{
						"workflow_id": workflowID,
						"status":      string(status),
					})
				}
			}
			if status.Terminal() {
				return
			}
		}
	}
}
