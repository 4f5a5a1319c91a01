package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendAttempts(t *testing.T, st core.StateStore, tag string, at time.Time, failed, succeeded int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < failed; i++ {
		require.NoError(t, st.AppendRecoveryAttempt(ctx, core.RecoveryAttempt{
			ConversationID: core.NewID(), HandlerTag: tag, Succeeded: false, Timestamp: at,
		}))
	}
	for i := 0; i < succeeded; i++ {
		require.NoError(t, st.AppendRecoveryAttempt(ctx, core.RecoveryAttempt{
			ConversationID: core.NewID(), HandlerTag: tag, Succeeded: true, Timestamp: at,
		}))
	}
}

func TestBreakerAllowsHealthyHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	b := NewBreaker(st)
	assert.True(t, b.Allow(context.Background(), "bookings"))
}

func TestBreakerRequiresMinimumSamples(t *testing.T) {
	st := store.NewInMemoryStore()
	b := NewBreaker(st, func(o *BreakerOptions) {
		o.MinSamples = 5
	})
	appendAttempts(t, st, "flaky", time.Now().UTC(), 4, 0)

	// 100% failures but below the sample floor.
	assert.True(t, b.Allow(context.Background(), "flaky"))
}

func TestBreakerTripsAboveThreshold(t *testing.T) {
	st := store.NewInMemoryStore()
	b := NewBreaker(st)
	appendAttempts(t, st, "flaky", time.Now().UTC(), 4, 2)

	// 4 of 6 failed within the window.
	assert.False(t, b.Allow(context.Background(), "flaky"))

	// Other handlers are unaffected.
	assert.True(t, b.Allow(context.Background(), "healthy"))
}

func TestBreakerIgnoresAttemptsOutsideWindow(t *testing.T) {
	st := store.NewInMemoryStore()
	b := NewBreaker(st, func(o *BreakerOptions) {
		o.Window = 5 * time.Minute
	})
	appendAttempts(t, st, "flaky", time.Now().UTC().Add(-time.Hour), 10, 0)

	assert.True(t, b.Allow(context.Background(), "flaky"))
}

func TestBreakerCooldownAndRecovery(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now().UTC()
	b := NewBreaker(st, func(o *BreakerOptions) {
		o.Window = 5 * time.Minute
		o.Cooldown = 2 * time.Minute
		o.Clock = func() time.Time { return now }
	})
	ctx := context.Background()

	appendAttempts(t, st, "flaky", now, 6, 0)
	require.False(t, b.Allow(ctx, "flaky"))

	// Still cooling down: no log reads needed, still excluded.
	now = now.Add(time.Minute)
	assert.False(t, b.Allow(ctx, "flaky"))

	// After the cooldown the failures have also aged out of the window, so
	// the handler is selectable again.
	now = now.Add(10 * time.Minute)
	assert.True(t, b.Allow(ctx, "flaky"))
}

func TestBreakerFailsOpenOnStoreOutage(t *testing.T) {
	st := &failingAttemptStore{InMemoryStore: store.NewInMemoryStore()}
	b := NewBreaker(st)
	assert.True(t, b.Allow(context.Background(), "anything"))
}

func TestBreakerStatsSurviveRestart(t *testing.T) {
	st := store.NewInMemoryStore()
	appendAttempts(t, st, "flaky", time.Now().UTC(), 6, 0)

	// A fresh breaker over the same store sees the same history.
	b := NewBreaker(st)
	assert.False(t, b.Allow(context.Background(), "flaky"))
}
