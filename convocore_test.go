package convocore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/flow"
	"github.com/hupe1980/convocore/handler"
	"github.com/hupe1980/convocore/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bookingTestHandler struct{}

func (h *bookingTestHandler) Tag() string               { return "table_booking" }
func (h *bookingTestHandler) Capabilities() []core.Kind { return []core.Kind{core.KindBooking} }
func (h *bookingTestHandler) Priority() int             { return 10 }

func (h *bookingTestHandler) Handle(_ context.Context, input core.TurnInput) (*core.HandlerResult, error) {
	return &core.HandlerResult{
		Response:     fmt.Sprintf("Booking for %v at %v.", input.Slots["party_size"], input.Slots["time"]),
		Actionable:   true,
		Confidence:   0.9,
		WorkflowKind: "table_booking",
	}, nil
}

func TestCreateConversationValidation(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	_, err := c.CreateConversation(ctx, core.Kind("payments"), nil)
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "kind", ve.Field)

	conv, err := c.CreateConversation(ctx, core.KindBooking, map[string]any{"channel": "web"})
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, core.StageGreeting, conv.Flow.Stage)
}

func TestSendMessageValidation(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	var ve *core.ValidationError

	_, err := c.SendMessage(ctx, "", "hello", "u1")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "conversation_id", ve.Field)

	_, err = c.SendMessage(ctx, "c1", "", "u1")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "text", ve.Field)
}

func TestEndToEndBookingConversation(t *testing.T) {
	c := New()
	defer c.Close()
	c.RegisterHandler(&bookingTestHandler{})
	ctx := context.Background()

	var mu sync.Mutex
	topics := map[string]int{}
	c.Notifier().Subscribe(notify.SinkFunc(func(topic string, _ map[string]any) {
		mu.Lock()
		topics[topic]++
		mu.Unlock()
	}))

	conv, err := c.CreateConversation(ctx, core.KindBooking, nil)
	require.NoError(t, err)

	res, err := c.SendMessage(ctx, conv.ID, "book a table for 4 people at 19:30", "u1")
	require.NoError(t, err)
	assert.Equal(t, core.StageConfirmation, res.Stage)

	res, err = c.SendMessage(ctx, conv.ID, "yes", "u1")
	require.NoError(t, err)
	assert.Equal(t, core.StageCompletion, res.Stage)

	workflowID, ok := res.Diagnostics["workflow_id"].(string)
	require.True(t, ok)
	status, err := c.WorkflowStatus(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowPending, status)

	turns, stage, err := c.GetHistory(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StageCompletion, stage)
	require.Len(t, turns, 2)
	assert.Equal(t, "book a table for 4 people at 19:30", turns[0].Input)
	assert.NotEmpty(t, turns[0].Response)
}

func TestGetHistoryNewConversationIsEmpty(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	conv, err := c.CreateConversation(ctx, core.KindInquiry, nil)
	require.NoError(t, err)

	turns, stage, err := c.GetHistory(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
	assert.Equal(t, core.StageGreeting, stage)
}

func TestExpiredConversationStartsFresh(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	// An id the store has never seen (or has expired) starts a brand new
	// conversation rather than failing the message.
	id := core.NewID()
	res, err := c.SendMessage(ctx, id, "hello", "u1")
	require.NoError(t, err)
	assert.Equal(t, id, res.ConversationID)
	assert.NotEmpty(t, res.Response)

	turns, stage, err := c.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
	assert.Equal(t, core.StageCompletion, stage)
}

func TestSwitchHandler(t *testing.T) {
	c := New()
	defer c.Close()
	c.RegisterHandler(&bookingTestHandler{})
	ctx := context.Background()

	conv, err := c.CreateConversation(ctx, core.KindBooking, nil)
	require.NoError(t, err)

	require.NoError(t, c.SwitchHandler(ctx, conv.ID, handler.FallbackTag))

	err = c.SwitchHandler(ctx, conv.ID, "unknown")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEndConversationStopsTurns(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	conv, err := c.CreateConversation(ctx, core.KindGeneral, nil)
	require.NoError(t, err)

	require.NoError(t, c.EndConversation(ctx, conv.ID))

	_, err = c.SendMessage(ctx, conv.ID, "hello?", "u1")
	assert.ErrorIs(t, err, core.ErrConversationEnded)
}

func TestConcurrentSendMessageSerializes(t *testing.T) {
	c := New()
	defer c.Close()
	c.RegisterHandler(&bookingTestHandler{})
	ctx := context.Background()

	conv, err := c.CreateConversation(ctx, core.KindBooking, nil)
	require.NoError(t, err)

	// Both turns race on the same version; the loser reloads and re-runs.
	const writers = 2
	var wg sync.WaitGroup
	results := make([]*flow.TurnResult, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.SendMessage(ctx, conv.ID, "book a table", "u1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i], "writer %d", i)
		require.NotNil(t, results[i])
	}

	// Neither turn was dropped.
	turns, _, err := c.GetHistory(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, turns, writers)
}

func TestSearchTranscriptsIndexesCompletedTurns(t *testing.T) {
	c := New()
	defer c.Close()
	c.RegisterHandler(&bookingTestHandler{})
	ctx := context.Background()

	conv, err := c.CreateConversation(ctx, core.KindBooking, nil)
	require.NoError(t, err)

	_, err = c.SendMessage(ctx, conv.ID, "book a table for 4 people at 7pm", "u1")
	require.NoError(t, err)

	// Indexing happens behind the notifier's worker goroutine.
	require.Eventually(t, func() bool {
		return len(c.SearchTranscripts(conv.ID, "table", 10)) == 1
	}, time.Second, 10*time.Millisecond)

	entry := c.SearchTranscripts(conv.ID, "table", 10)[0]
	assert.Equal(t, 1, entry.Seq)
	assert.Equal(t, "book a table for 4 people at 7pm", entry.Input)
	assert.NotEmpty(t, entry.Response)

	assert.Empty(t, c.SearchTranscripts(conv.ID, "refund", 10))
}
