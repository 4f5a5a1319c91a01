package core

import "context"

// Intent is the classified purpose of a user message together with the
// structured fields that must be present before a handler can act on it.
type Intent struct {
	Name          string   `json:"name"`
	Confidence    float64  `json:"confidence"`
	RequiredSlots []string `json:"required_slots,omitempty"`
}

// IntentDetector classifies a message and extracts any slot values found in
// it. The flow package ships a rule-based default; production deployments
// typically plug a model-backed implementation.
type IntentDetector interface {
	// Detect returns the intent for text plus any slot values extracted from
	// it. The returned slot map may be empty but must not be nil.
	Detect(ctx context.Context, kind Kind, text string, slots map[string]any) (*Intent, map[string]any, error)
}
