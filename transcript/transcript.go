package transcript

import (
	"strings"
	"sync"

	"github.com/hupe1980/convocore/notify"
)

// Entry is one indexed turn.
type Entry struct {
	Seq        int
	Input      string
	Response   string
	Stage      string
	HandlerTag string
}

// Options configures an Index.
type Options struct {
	// MaxPerConversation caps retained entries per conversation; the oldest
	// entry is evicted when the cap is exceeded. Zero means unbounded.
	MaxPerConversation int
}

// Index is an in-memory turn index keyed by conversation id. It implements
// notify.Sink and consumes conversation.turn_completed notifications,
// ignoring every other topic.
//
// Concurrency: protected by RWMutex. Entries for a conversation are kept in
// arrival order, which matches turn order since the flow machine publishes
// after each persisted turn.
type Index struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	max     int
}

// NewIndex creates an empty turn index.
func NewIndex(optFns ...func(o *Options)) *Index {
	opts := Options{MaxPerConversation: 256}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Index{
		entries: make(map[string][]Entry),
		max:     opts.MaxPerConversation,
	}
}

// Publish implements notify.Sink. Payload fields that are missing or carry
// an unexpected type leave the corresponding entry field zeroed; a
// notification without a conversation id is discarded.
func (ix *Index) Publish(topic string, payload map[string]any) {
	if topic != notify.TopicConversationTurnCompleted {
		return
	}
	conversationID, _ := payload["conversation_id"].(string)
	if conversationID == "" {
		return
	}
	entry := Entry{}
	entry.Seq, _ = payload["seq"].(int)
	entry.Input, _ = payload["input"].(string)
	entry.Response, _ = payload["response"].(string)
	entry.Stage, _ = payload["stage"].(string)
	entry.HandlerTag, _ = payload["handler_tag"].(string)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	entries := append(ix.entries[conversationID], entry)
	if ix.max > 0 && len(entries) > ix.max {
		entries = entries[len(entries)-ix.max:]
	}
	ix.entries[conversationID] = entries
}

// Search returns the conversation's entries whose input or response contains
// the query, case-insensitively, in turn order up to limit. An empty query
// matches every entry.
func (ix *Index) Search(conversationID, query string, limit int) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	needle := strings.ToLower(query)
	results := make([]Entry, 0, limit)
	for _, entry := range ix.entries[conversationID] {
		if limit > 0 && len(results) >= limit {
			break
		}
		if needle == "" ||
			strings.Contains(strings.ToLower(entry.Input), needle) ||
			strings.Contains(strings.ToLower(entry.Response), needle) {
			results = append(results, entry)
		}
	}
	return results
}

// Recent returns the last limit entries for the conversation in turn order.
func (ix *Index) Recent(conversationID string, limit int) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entries := ix.entries[conversationID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	results := make([]Entry, len(entries))
	copy(results, entries)
	return results
}

// Drop discards every indexed entry for the conversation.
func (ix *Index) Drop(conversationID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, conversationID)
}
