package testutil

import (
	"time"

	"github.com/hupe1980/convocore/core"
)

// ConversationBuilder constructs conversations in arbitrary flow states with
// fluent chaining. Example:
//
//	conv := NewConversationBuilder("c1").
//		Kind(core.KindBooking).
//		Stage(core.StageProcessing).
//		Slot("party_size", "4").
//		Binding("table_booking").
//		Build()
type ConversationBuilder struct {
	conv *core.Conversation
}

// NewConversationBuilder starts a builder for a general-kind conversation in
// the greeting stage. Chain only the parts the test needs, then call Build.
func NewConversationBuilder(id string) *ConversationBuilder {
	return &ConversationBuilder{conv: core.NewConversation(id, core.KindGeneral, nil)}
}

// Kind sets the conversation kind (chainable).
func (b *ConversationBuilder) Kind(k core.Kind) *ConversationBuilder {
	b.conv.Kind = k
	return b
}

// Stage moves the conversation to the given stage (chainable).
func (b *ConversationBuilder) Stage(s core.Stage) *ConversationBuilder {
	b.conv.Flow.Stage = s
	return b
}

// Seed sets a seed context value, mirrored into the slot map the way
// conversation creation does (chainable).
func (b *ConversationBuilder) Seed(key string, val any) *ConversationBuilder {
	b.conv.Seed[key] = val
	b.conv.Flow.Slots[key] = val
	return b
}

// Slot sets an accumulated slot value (chainable).
func (b *ConversationBuilder) Slot(key string, val any) *ConversationBuilder {
	b.conv.Flow.Slots[key] = val
	return b
}

// Intent sets the detected intent (chainable).
func (b *ConversationBuilder) Intent(name string, confidence float64, required ...string) *ConversationBuilder {
	b.conv.Flow.Intent = &core.Intent{Name: name, Confidence: confidence, RequiredSlots: required}
	return b
}

// Clarifications sets the clarification counter (chainable).
func (b *ConversationBuilder) Clarifications(n int) *ConversationBuilder {
	b.conv.Flow.Clarifications = n
	return b
}

// Binding binds the conversation to the named handler (chainable).
func (b *ConversationBuilder) Binding(tag string) *ConversationBuilder {
	b.conv.Binding = &core.AgentBinding{Tag: tag, BoundAt: time.Now()}
	return b
}

// Pending sets the workflow request awaiting confirmation (chainable).
func (b *ConversationBuilder) Pending(kind string, payload map[string]any) *ConversationBuilder {
	b.conv.Flow.Pending = &core.WorkflowRequest{Kind: kind, Payload: payload}
	return b
}

// HumanHandoff marks the conversation as escalated (chainable).
func (b *ConversationBuilder) HumanHandoff() *ConversationBuilder {
	b.conv.HumanHandoff = true
	return b
}

// Turn appends a completed turn to the history (chainable).
func (b *ConversationBuilder) Turn(t core.Turn) *ConversationBuilder {
	b.conv.AppendTurn(t)
	return b
}

// Build returns the constructed conversation.
func (b *ConversationBuilder) Build() *core.Conversation { return b.conv }
