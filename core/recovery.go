package core

import "time"

// Strategy is one of the five ordered remediation actions the recovery
// manager applies when a stage fails. Lower values are tried first; each is
// attempted at most once per turn.
type Strategy int

const (
	// StrategyRetryHandler re-invokes the bound handler with the same context.
	StrategyRetryHandler Strategy = iota + 1
	// StrategyFallbackHandler rebinds to the generic fallback handler.
	StrategyFallbackHandler
	// StrategyResetState clears slots and returns the flow to intent
	// detection, preserving identity and turn history.
	StrategyResetState
	// StrategyReplaceConversation starts a fresh conversation seeded with the
	// initiating context, abandoning the old one as failed.
	StrategyReplaceConversation
	// StrategyEscalate marks the conversation failed with a human-actionable
	// flag. No further automated recovery follows.
	StrategyEscalate
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case StrategyRetryHandler:
		return "retry_handler"
	case StrategyFallbackHandler:
		return "fallback_handler"
	case StrategyResetState:
		return "reset_state"
	case StrategyReplaceConversation:
		return "replace_conversation"
	case StrategyEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// RecoveryAttempt is the durable record of one applied recovery strategy.
// The circuit breaker and the per-turn strategy bounds are computed from
// these records rather than in-memory counters so they survive restarts.
type RecoveryAttempt struct {
	ConversationID string    `json:"conversation_id"`
	Seq            int       `json:"seq"`
	Stage          Stage     `json:"stage"`
	Strategy       Strategy  `json:"strategy"`
	HandlerTag     string    `json:"handler_tag,omitempty"`
	Reason         string    `json:"reason"`
	Succeeded      bool      `json:"succeeded"`
	Timestamp      time.Time `json:"timestamp"`
}
