package core

import (
	"time"
)

// Kind is the business-facing mode of a conversation. The set is closed;
// CreateConversation rejects anything else.
type Kind string

const (
	// KindBooking covers flows that end in a durable booking process.
	KindBooking Kind = "booking"
	// KindInquiry covers purely informational exchanges.
	KindInquiry Kind = "inquiry"
	// KindSupport covers troubleshooting and account questions.
	KindSupport Kind = "support"
	// KindGeneral is the catch-all mode served by the fallback handler.
	KindGeneral Kind = "general"
)

// ValidKind reports whether k is part of the closed kind set.
func ValidKind(k Kind) bool {
	switch k {
	case KindBooking, KindInquiry, KindSupport, KindGeneral:
		return true
	}
	return false
}

// Turn is a single request/response exchange. Immutable once appended to a
// conversation's history.
type Turn struct {
	Seq         int            `json:"seq"`
	Input       string         `json:"input"`
	UserID      string         `json:"user_id,omitempty"`
	HandlerTag  string         `json:"handler_tag,omitempty"`
	Response    string         `json:"response,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AgentBinding records the currently selected domain handler for a
// conversation plus the reason and score that led to its selection. Replaced
// wholesale on a handler switch.
type AgentBinding struct {
	Tag     string    `json:"tag"`
	Score   float64   `json:"score"`
	Reason  string    `json:"reason"`
	BoundAt time.Time `json:"bound_at"`
}

// FlowState is the mutable control-state of a conversation.
//
// Contract:
//   - Stage only moves along edges of the flow transition table
//   - Version strictly increases on every persisted write; a save with a
//     stale version is rejected by the state store (at most one writer per
//     conversation at a time)
//   - Slots accumulate incrementally during information gathering
type FlowState struct {
	Stage          Stage            `json:"stage"`
	Slots          map[string]any   `json:"slots"`
	Intent         *Intent          `json:"intent,omitempty"`
	Clarifications int              `json:"clarifications"`
	Pending        *WorkflowRequest `json:"pending,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	Version        int64            `json:"version"`
}

// WorkflowRequest is the durable-process hand-off awaiting user confirmation,
// produced by an actionable handler result and consumed by the workflow
// trigger stage.
type WorkflowRequest struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Conversation is the aggregate root: identity, lifecycle timestamps, the
// current FlowState, the agent binding and the ordered turn history. A
// conversation is created on the first inbound message for a session and
// destroyed (or left to expire) on explicit end or irrecoverable failure.
type Conversation struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	Flow         FlowState      `json:"flow"`
	Binding      *AgentBinding  `json:"binding,omitempty"`
	Turns        []Turn         `json:"turns"`
	Seed         map[string]any `json:"seed,omitempty"`
	HumanHandoff bool           `json:"human_handoff,omitempty"`
	Created      time.Time      `json:"created"`
	LastActivity time.Time      `json:"last_activity"`
}

// NewConversation creates a conversation in the greeting stage with the given
// kind and initial context slots.
func NewConversation(id string, kind Kind, initial map[string]any) *Conversation {
	now := time.Now().UTC()
	slots := map[string]any{}
	seed := map[string]any{}
	for k, v := range initial {
		slots[k] = v
		seed[k] = v
	}
	return &Conversation{
		ID:           id,
		Kind:         kind,
		Flow:         FlowState{Stage: StageGreeting, Slots: slots},
		Turns:        []Turn{},
		Seed:         seed,
		Created:      now,
		LastActivity: now,
	}
}

// TurnCount returns the number of completed turns.
func (c *Conversation) TurnCount() int { return len(c.Turns) }

// NextSeq returns the sequence number the next turn will carry.
func (c *Conversation) NextSeq() int { return len(c.Turns) + 1 }

// Terminal reports whether the conversation accepts no further turns.
func (c *Conversation) Terminal() bool { return c.Flow.Stage.Terminal() }

// AppendTurn adds a completed turn to the history and bumps LastActivity.
func (c *Conversation) AppendTurn(t Turn) {
	c.Turns = append(c.Turns, t)
	c.LastActivity = time.Now().UTC()
}

// SetSlot writes a context slot, allocating the map lazily.
func (c *Conversation) SetSlot(key string, value any) {
	if c.Flow.Slots == nil {
		c.Flow.Slots = map[string]any{}
	}
	c.Flow.Slots[key] = value
}

// MissingSlots returns the required slot names not yet present in context.
func (c *Conversation) MissingSlots(required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := c.Flow.Slots[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Clone returns a deep copy safe for independent mutation. Losing writers in
// the optimistic-concurrency loop mutate a clone, never the loaded snapshot.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Flow.Slots = make(map[string]any, len(c.Flow.Slots))
	for k, v := range c.Flow.Slots {
		clone.Flow.Slots[k] = v
	}
	if c.Flow.Intent != nil {
		intent := *c.Flow.Intent
		intent.RequiredSlots = append([]string(nil), c.Flow.Intent.RequiredSlots...)
		clone.Flow.Intent = &intent
	}
	if c.Flow.Pending != nil {
		pending := *c.Flow.Pending
		pending.Payload = make(map[string]any, len(c.Flow.Pending.Payload))
		for k, v := range c.Flow.Pending.Payload {
			pending.Payload[k] = v
		}
		clone.Flow.Pending = &pending
	}
	clone.Seed = make(map[string]any, len(c.Seed))
	for k, v := range c.Seed {
		clone.Seed[k] = v
	}
	if c.Binding != nil {
		binding := *c.Binding
		clone.Binding = &binding
	}
	clone.Turns = make([]Turn, len(c.Turns))
	copy(clone.Turns, c.Turns)
	return &clone
}
