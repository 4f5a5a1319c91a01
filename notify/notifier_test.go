package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is a thread-safe sink recording everything it receives.
type collector struct {
	mu   sync.Mutex
	got  []Notification
	cond chan struct{}
}

func newCollector() *collector {
	return &collector{cond: make(chan struct{}, 64)}
}

func (c *collector) Publish(topic string, payload map[string]any) {
	c.mu.Lock()
	c.got = append(c.got, Notification{Topic: topic, Payload: payload})
	c.mu.Unlock()
	select {
	case c.cond <- struct{}{}:
	default:
	}
}

func (c *collector) waitFor(t *testing.T, n int) []Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.got) >= n {
			out := append([]Notification(nil), c.got...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.cond:
		case <-deadline:
			t.Fatalf("timed out waiting for %d notifications", n)
		}
	}
}

func TestNotifierDeliversToAllSinks(t *testing.T) {
	n := New()
	defer n.Close()

	a := newCollector()
	b := newCollector()
	n.Subscribe(a)
	n.Subscribe(b)

	n.Publish(TopicConversationCreated, map[string]any{"conversation_id": "c1"})

	gotA := a.waitFor(t, 1)
	gotB := b.waitFor(t, 1)
	assert.Equal(t, TopicConversationCreated, gotA[0].Topic)
	assert.Equal(t, "c1", gotB[0].Payload["conversation_id"])
}

func TestNotifierPreservesOrderPerPublisher(t *testing.T) {
	n := New()
	defer n.Close()

	c := newCollector()
	n.Subscribe(c)

	n.Publish(TopicConversationStageChanged, map[string]any{"seq": 1})
	n.Publish(TopicConversationStageChanged, map[string]any{"seq": 2})
	n.Publish(TopicConversationEnded, map[string]any{"seq": 3})

	got := c.waitFor(t, 3)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Payload["seq"])
	assert.Equal(t, 2, got[1].Payload["seq"])
	assert.Equal(t, TopicConversationEnded, got[2].Topic)
}

func TestNotifierDropsOnFullBufferWithoutBlocking(t *testing.T) {
	// The only sink stalls the worker and the buffer holds a single entry,
	// so further publishes must drop rather than block.
	n := New(func(o *Options) {
		o.BufferSize = 1
	})

	gate := make(chan struct{})
	consuming := make(chan struct{}, 8)
	n.Subscribe(SinkFunc(func(string, map[string]any) {
		consuming <- struct{}{}
		<-gate
	}))

	n.Publish(TopicWorkflowTriggered, map[string]any{"i": 0})
	<-consuming // worker is now stuck inside the sink

	done := make(chan struct{})
	go func() {
		for i := 1; i < 100; i++ {
			n.Publish(TopicWorkflowTriggered, map[string]any{"i": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full buffer")
	}
	assert.Positive(t, n.Dropped())

	// Release the worker; at most one buffered notification remains and
	// fits the consuming channel's capacity.
	close(gate)
	n.Close()
}

func TestNotifierPublishAfterCloseIsNoOp(t *testing.T) {
	n := New()
	c := newCollector()
	n.Subscribe(c)
	n.Close()

	assert.NotPanics(t, func() {
		n.Publish(TopicConversationCreated, map[string]any{"conversation_id": "c1"})
	})
}

func TestSinkFunc(t *testing.T) {
	var gotTopic string
	s := SinkFunc(func(topic string, _ map[string]any) { gotTopic = topic })
	s.Publish(TopicRecoveryAttempted, nil)
	assert.Equal(t, TopicRecoveryAttempted, gotTopic)
}

func TestNotifierConcurrentPublishAndClose(t *testing.T) {
	// Publishers racing Close must never hit a send on a closed channel.
	for i := 0; i < 50; i++ {
		n := New(func(o *Options) { o.BufferSize = 1 })
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					n.Publish("conversation.turn_completed", nil)
				}
			}()
		}
		n.Close()
		wg.Wait()
	}
}
