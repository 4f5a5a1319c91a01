// Package notify publishes state-change notifications to observers
// (dashboards, analytics, follow-up messaging) without ever blocking the
// conversation path. Delivery is best-effort: when the buffer is full the
// notification is dropped and counted, never queued synchronously.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/convocore/logging"
)

// Topics published by the orchestration core.
const (
	TopicConversationCreated       = "conversation.created"
	TopicConversationTurnCompleted = "conversation.turn_completed"
	TopicConversationStageChanged  = "conversation.stage_changed"
	TopicConversationEnded         = "conversation.ended"
	TopicConversationFailed        = "conversation.failed"
	TopicRecoveryAttempted         = "recovery.attempted"
	TopicWorkflowTriggered         = "workflow.triggered"
	TopicWorkflowStatusChanged     = "workflow.status_changed"
)

// Notification is one published state change.
type Notification struct {
	Topic   string
	Payload map[string]any
}

// Sink receives notifications. Implementations must not assume delivery
// guarantees; the core is fire-and-forget.
type Sink interface {
	Publish(topic string, payload map[string]any)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(topic string, payload map[string]any)

// Publish implements Sink.
func (f SinkFunc) Publish(topic string, payload map[string]any) { f(topic, payload) }

// Options configures a Notifier.
type Options struct {
	// BufferSize bounds the pending notification queue.
	BufferSize int
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Notifier fans notifications out to registered sinks from a single worker
// goroutine. Publish never blocks the caller.
type Notifier struct {
	mu     sync.RWMutex
	sinks  []Sink
	ch     chan Notification
	done   chan struct{}
	closed atomic.Bool

	dropped atomic.Int64
	logger  logging.Logger
}

// New constructs a running Notifier.
func New(optFns ...func(o *Options)) *Notifier {
	opts := Options{BufferSize: 256, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	n := &Notifier{
		ch:     make(chan Notification, opts.BufferSize),
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
	go n.run()
	return n
}

// Subscribe registers a sink for all topics.
func (n *Notifier) Subscribe(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Publish enqueues a notification, dropping it when the buffer is full.
// The read lock pairs with Close's write lock so the channel cannot be
// closed between the flag check and the send.
func (n *Notifier) Publish(topic string, payload map[string]any) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed.Load() {
		return
	}
	select {
	case n.ch <- Notification{Topic: topic, Payload: payload}:
	default:
		n.dropped.Add(1)
		n.logger.Warn("notifier buffer full, dropped notification", "topic", topic)
	}
}

// Dropped returns the number of notifications discarded due to backpressure.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// Close stops the worker after draining buffered notifications. The wait
// for the worker happens outside the lock so in-flight sink callbacks that
// publish do not deadlock.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed.CompareAndSwap(false, true) {
		n.mu.Unlock()
		return
	}
	close(n.ch)
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	for notif := range n.ch {
		n.mu.RLock()
		sinks := make([]Sink, len(n.sinks))
		copy(sinks, n.sinks)
		n.mu.RUnlock()
		for _, s := range sinks {
			s.Publish(notif.Topic, notif.Payload)
		}
	}
}
