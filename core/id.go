package core

import "github.com/google/uuid"

// NewID generates a unique identifier for conversations and events.
func NewID() string { return uuid.NewString() }
