package store

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreSaveLoadRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	conv := testutil.NewConversationBuilder("c1").
		Kind(core.KindBooking).
		Seed("channel", "web").
		Turn(testutil.NewTurnBuilder(1).Input("book a table").Response("For when?").Handler("table_booking", 0.9).Build()).
		Build()
	require.NoError(t, s.Save(ctx, conv, 0))
	assert.Equal(t, int64(1), conv.Flow.Version)

	loaded, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, loaded.ID)
	assert.Equal(t, "web", loaded.Flow.Slots["channel"])
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, "table_booking", loaded.Turns[0].HandlerTag)

	// The returned conversation is a clone; mutating it does not leak into
	// the store.
	loaded.Flow.Slots["channel"] = "phone"
	again, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "web", again.Flow.Slots["channel"])
}

func TestInMemoryStoreLoadUnknown(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemoryStoreVersionConflict(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	conv := core.NewConversation("c1", core.KindBooking, nil)
	require.NoError(t, s.Save(ctx, conv, 0))

	// Two readers share version 1; the first write wins, the second gets a
	// conflict instead of silently clobbering it.
	a, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	b, err := s.Load(ctx, "c1")
	require.NoError(t, err)

	a.SetSlot("party_size", "4")
	require.NoError(t, s.Save(ctx, a, a.Flow.Version))

	b.SetSlot("party_size", "6")
	err = s.Save(ctx, b, b.Flow.Version)
	assert.ErrorIs(t, err, core.ErrVersionConflict)

	// Reloading and reapplying succeeds.
	fresh, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "4", fresh.Flow.Slots["party_size"])
	fresh.SetSlot("party_size", "6")
	require.NoError(t, s.Save(ctx, fresh, fresh.Flow.Version))
}

func TestInMemoryStoreCreateRequiresZeroVersion(t *testing.T) {
	s := NewInMemoryStore()
	conv := core.NewConversation("c1", core.KindBooking, nil)
	err := s.Save(context.Background(), conv, 7)
	assert.ErrorIs(t, err, core.ErrVersionConflict)
}

func TestInMemoryStoreTTLExpiry(t *testing.T) {
	now := time.Now()
	s := NewInMemoryStore(func(o *InMemoryOptions) {
		o.ConversationTTL = time.Hour
		o.Clock = func() time.Time { return now }
	})
	ctx := context.Background()

	conv := core.NewConversation("c1", core.KindBooking, nil)
	require.NoError(t, s.Save(ctx, conv, 0))

	// Activity refreshes the idle TTL.
	now = now.Add(50 * time.Minute)
	loaded, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, loaded, loaded.Flow.Version))

	now = now.Add(50 * time.Minute)
	_, err = s.Load(ctx, "c1")
	require.NoError(t, err)

	// Past the idle window the conversation behaves like it never existed.
	now = now.Add(2 * time.Hour)
	_, err = s.Load(ctx, "c1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// A new conversation can be created under the same id.
	fresh := core.NewConversation("c1", core.KindBooking, nil)
	assert.NoError(t, s.Save(ctx, fresh, 0))
}

func TestInMemoryStoreWorkflowRefs(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	ref := &core.WorkflowInstance{
		ID:             "wf-1",
		ConversationID: "c1",
		Kind:           "table_booking",
		Status:         core.WorkflowPending,
		IdempotencyKey: "c1:3:table_booking",
	}
	require.NoError(t, s.SaveWorkflowRef(ctx, ref))

	byID, err := s.WorkflowRef(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "table_booking", byID.Kind)

	byKey, err := s.WorkflowRefByKey(ctx, "c1:3:table_booking")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", byKey.ID)

	_, err = s.WorkflowRefByKey(ctx, "other")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemoryStoreRecoveryAttempts(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendRecoveryAttempt(ctx, core.RecoveryAttempt{
			ConversationID: "c1",
			Seq:            1,
			Strategy:       core.StrategyRetryHandler,
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.RecoveryAttempts(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	recent, err := s.RecoveryAttempts(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	require.NoError(t, s.PruneRecoveryAttempts(ctx, base.Add(90*time.Second)))
	all, err = s.RecoveryAttempts(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
