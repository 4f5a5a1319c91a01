package testutil

import (
	"time"

	"github.com/hupe1980/convocore/core"
)

// TurnBuilder constructs completed turns for seeding conversation history.
// Example:
//
//	turn := NewTurnBuilder(1).Input("book a table").Response("For when?").Build()
type TurnBuilder struct {
	turn core.Turn
}

// NewTurnBuilder starts a builder for a turn with the given sequence number.
func NewTurnBuilder(seq int) *TurnBuilder {
	return &TurnBuilder{turn: core.Turn{Seq: seq, Timestamp: time.Now().UTC()}}
}

// Input sets the user message (chainable).
func (b *TurnBuilder) Input(text string) *TurnBuilder {
	b.turn.Input = text
	return b
}

// UserID sets the originating user (chainable).
func (b *TurnBuilder) UserID(id string) *TurnBuilder {
	b.turn.UserID = id
	return b
}

// Response sets the assembled reply (chainable).
func (b *TurnBuilder) Response(text string) *TurnBuilder {
	b.turn.Response = text
	return b
}

// Handler records the handler tag and its confidence (chainable).
func (b *TurnBuilder) Handler(tag string, confidence float64) *TurnBuilder {
	b.turn.HandlerTag = tag
	b.turn.Confidence = confidence
	return b
}

// Build returns the constructed turn.
func (b *TurnBuilder) Build() core.Turn { return b.turn }
