package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/internal/testutil"
	"github.com/hupe1980/convocore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fallbackTag = "general"

func boundConversation(tag string) *core.Conversation {
	b := testutil.NewConversationBuilder(core.NewID()).Kind(core.KindSupport)
	if tag != "" {
		b.Binding(tag)
	}
	return b.Build()
}

func TestRecoverLadderOrder(t *testing.T) {
	st := store.NewInMemoryStore()
	m := NewManager(st)
	ctx := context.Background()
	conv := boundConversation("order_support")
	cause := errors.New("backend down")

	want := []core.Strategy{
		core.StrategyRetryHandler,
		core.StrategyFallbackHandler,
		core.StrategyResetState,
		core.StrategyReplaceConversation,
		core.StrategyEscalate,
	}
	for _, expected := range want {
		plan, err := m.Recover(ctx, conv, 1, core.StageProcessing, cause, fallbackTag)
		require.NoError(t, err)
		assert.Equal(t, expected, plan.Strategy)
		require.NoError(t, m.Record(ctx, conv, 1, core.StageProcessing, plan, false))
	}

	// Exhausted ladder keeps escalating.
	plan, err := m.Recover(ctx, conv, 1, core.StageProcessing, cause, fallbackTag)
	require.NoError(t, err)
	assert.Equal(t, core.StrategyEscalate, plan.Strategy)
}

func TestRecoverSkipsRetryWithoutBinding(t *testing.T) {
	st := store.NewInMemoryStore()
	m := NewManager(st)

	plan, err := m.Recover(context.Background(), boundConversation(""), 1,
		core.StageIntentDetection, errors.New("detector down"), fallbackTag)
	require.NoError(t, err)
	assert.Equal(t, core.StrategyFallbackHandler, plan.Strategy)
}

func TestRecoverSkipsFallbackWhenAlreadyBound(t *testing.T) {
	st := store.NewInMemoryStore()
	m := NewManager(st)
	ctx := context.Background()
	conv := boundConversation(fallbackTag)
	cause := errors.New("fallback also down")

	plan, err := m.Recover(ctx, conv, 1, core.StageProcessing, cause, fallbackTag)
	require.NoError(t, err)
	assert.Equal(t, core.StrategyRetryHandler, plan.Strategy)
	require.NoError(t, m.Record(ctx, conv, 1, core.StageProcessing, plan, false))

	// With retry spent and the fallback already bound, the next rung is the
	// state reset.
	plan, err = m.Recover(ctx, conv, 1, core.StageProcessing, cause, fallbackTag)
	require.NoError(t, err)
	assert.Equal(t, core.StrategyResetState, plan.Strategy)
	assert.Equal(t, core.StageIntentDetection, plan.ResetTo)
}

func TestRecoverBoundsArePerTurn(t *testing.T) {
	st := store.NewInMemoryStore()
	m := NewManager(st)
	ctx := context.Background()
	conv := boundConversation("order_support")
	cause := errors.New("backend down")

	plan, err := m.Recover(ctx, conv, 1, core.StageProcessing, cause, fallbackTag)
	require.NoError(t, err)
	require.NoError(t, m.Record(ctx, conv, 1, core.StageProcessing, plan, false))

	// A new turn starts its own ladder at strategy 1.
	plan, err = m.Recover(ctx, conv, 2, core.StageProcessing, cause, fallbackTag)
	require.NoError(t, err)
	assert.Equal(t, core.StrategyRetryHandler, plan.Strategy)
}

func TestRecoverEscalatesWhenAttemptLogUnreachable(t *testing.T) {
	st := &failingAttemptStore{InMemoryStore: store.NewInMemoryStore()}
	m := NewManager(st)

	plan, err := m.Recover(context.Background(), boundConversation("order_support"), 1,
		core.StageProcessing, errors.New("backend down"), fallbackTag)
	require.NoError(t, err)
	assert.Equal(t, core.StrategyEscalate, plan.Strategy)
}

type failingAttemptStore struct {
	*store.InMemoryStore
}

func (s *failingAttemptStore) RecoveryAttempts(context.Context, time.Time) ([]core.RecoveryAttempt, error) {
	return nil, &core.StoreUnavailableError{Op: "recovery_attempts", Err: errors.New("connection refused")}
}

func TestRecordPersistsAttemptDetails(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(st, func(o *ManagerOptions) {
		o.Clock = func() time.Time { return now }
	})
	conv := boundConversation("order_support")

	plan := &Plan{Strategy: core.StrategyFallbackHandler, Reason: "backend down"}
	require.NoError(t, m.Record(context.Background(), conv, 3, core.StageProcessing, plan, true))

	attempts, err := st.RecoveryAttempts(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	a := attempts[0]
	assert.Equal(t, conv.ID, a.ConversationID)
	assert.Equal(t, 3, a.Seq)
	assert.Equal(t, core.StageProcessing, a.Stage)
	assert.Equal(t, "order_support", a.HandlerTag)
	assert.Equal(t, "backend down", a.Reason)
	assert.True(t, a.Succeeded)
	assert.Equal(t, now, a.Timestamp)
}

func TestSweepPrunesOldAttempts(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now().UTC()
	m := NewManager(st, func(o *ManagerOptions) {
		o.AttemptRetention = time.Hour
		o.Clock = func() time.Time { return now }
	})
	ctx := context.Background()

	require.NoError(t, st.AppendRecoveryAttempt(ctx, core.RecoveryAttempt{
		ConversationID: "old", Timestamp: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, st.AppendRecoveryAttempt(ctx, core.RecoveryAttempt{
		ConversationID: "recent", Timestamp: now.Add(-time.Minute),
	}))

	require.NoError(t, m.Sweep(ctx))

	attempts, err := st.RecoveryAttempts(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "recent", attempts[0].ConversationID)
}
