package core

import "context"

// TurnInput is the payload a domain handler receives for one turn.
type TurnInput struct {
	ConversationID string
	Seq            int
	Kind           Kind
	Text           string
	UserID         string
	Intent         *Intent
	Slots          map[string]any
}

// HandlerResult is what a domain handler returns for one turn.
//
// Actionable marks responses that represent a concrete business outcome
// (e.g. a booking request) and therefore route through confirmation and a
// workflow trigger. RequiredSlots lets a handler demand further structured
// fields beyond what the intent declared.
type HandlerResult struct {
	Response      string
	RequiredSlots []string
	Actionable    bool
	Confidence    float64
	WorkflowKind  string
	Payload       map[string]any
}

// Handler is the contract a domain-specialized handler implements. Handlers
// are supplied by the embedding application and registered at startup; the
// core never inspects how a handler computes its answer.
//
// Implementations must:
//   - Respect context cancellation and deadlines
//   - Be side-effect-free with respect to the core's own state
//   - Be safe for concurrent use across conversations
type Handler interface {
	// Tag returns the unique capability tag, e.g. "food-booking".
	Tag() string
	// Capabilities returns the conversation kinds this handler serves.
	Capabilities() []Kind
	// Priority orders handlers when several declare the same capability.
	// Higher wins.
	Priority() int
	// Handle processes one turn.
	Handle(ctx context.Context, input TurnInput) (*HandlerResult, error)
}
