package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a conversation or workflow reference does
	// not exist in the state store (including TTL expiry).
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when an optimistic save lost the race.
	// Always retried by reloading, never surfaced to the end user.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyTerminal is returned by Engine.Cancel when the workflow has
	// already reached a terminal status.
	ErrAlreadyTerminal = errors.New("workflow already terminal")

	// ErrConversationEnded is returned when a message arrives for a
	// conversation in a terminal stage.
	ErrConversationEnded = errors.New("conversation ended")
)

// ValidationError reports malformed input at the boundary. Never retried and
// never handed to the recovery manager.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError constructs a ValidationError for a named field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// HandlerError wraps a failure from a domain handler. Recoverable via the
// recovery manager's strategy ladder.
type HandlerError struct {
	Tag string
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed: %v", e.Tag, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *HandlerError) Unwrap() error { return e.Err }

// StoreUnavailableError signals that the state store cannot be reached.
// Distinct from ErrNotFound so callers never mistake an outage for a missing
// key.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("state store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// WorkflowTriggerError signals that the hand-off to the durable-execution
// engine failed. Retried with the same idempotency key, then escalated.
type WorkflowTriggerError struct {
	Kind string
	Err  error
}

func (e *WorkflowTriggerError) Error() string {
	return fmt.Sprintf("workflow trigger %s failed: %v", e.Kind, e.Err)
}

func (e *WorkflowTriggerError) Unwrap() error { return e.Err }

// MaxAttemptsError signals that a configured bound (clarification count,
// recovery strategies, store retries) was exhausted. Always escalates; the
// conversation is never silently dropped.
type MaxAttemptsError struct {
	Bound  string
	Limit  int
	Reason string
}

func (e *MaxAttemptsError) Error() string {
	return fmt.Sprintf("%s exceeded (limit %d): %s", e.Bound, e.Limit, e.Reason)
}

// IsStoreUnavailable reports whether err is (or wraps) a store outage.
func IsStoreUnavailable(err error) bool {
	var sue *StoreUnavailableError
	return errors.As(err, &sue)
}
