package handler

import (
	"context"
	"fmt"

	"github.com/hupe1980/convocore/core"
)

// FallbackTag is the capability tag of the built-in generic handler.
const FallbackTag = "general"

// Fallback is the always-present generic handler bound when no specialized
// handler declares capability for a conversation kind, and the target of
// recovery strategy 2. It never errors and never produces an actionable
// outcome.
type Fallback struct{}

var _ core.Handler = (*Fallback)(nil)

// NewFallback constructs the generic fallback handler.
func NewFallback() *Fallback { return &Fallback{} }

// Tag returns the fallback capability tag.
func (f *Fallback) Tag() string { return FallbackTag }

// Capabilities covers every conversation kind.
func (f *Fallback) Capabilities() []core.Kind {
	return []core.Kind{core.KindBooking, core.KindInquiry, core.KindSupport, core.KindGeneral}
}

// Priority is the lowest possible so specialized handlers always win.
func (f *Fallback) Priority() int { return 0 }

// Handle produces a generic acknowledgement.
func (f *Fallback) Handle(_ context.Context, input core.TurnInput) (*core.HandlerResult, error) {
	response := "I can help with general questions. Could you tell me a bit more about what you need?"
	if input.Intent != nil && input.Intent.Name != "" {
		response = fmt.Sprintf("I understood you want help with %q, but I don't have a specialist for that yet. Could you rephrase or give me more detail?", input.Intent.Name)
	}
	return &core.HandlerResult{
		Response:   response,
		Actionable: false,
		Confidence: 0.1,
	}, nil
}
