package router

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/handler"
	"github.com/hupe1980/convocore/recovery"
	"github.com/hupe1980/convocore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	tag      string
	kinds    []core.Kind
	priority int
}

func (h *stubHandler) Tag() string               { return h.tag }
func (h *stubHandler) Capabilities() []core.Kind { return h.kinds }
func (h *stubHandler) Priority() int             { return h.priority }

func (h *stubHandler) Handle(context.Context, core.TurnInput) (*core.HandlerResult, error) {
	return &core.HandlerResult{Response: h.tag}, nil
}

func TestSelectSingleCapabilityMatch(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register(&stubHandler{tag: "bookings", kinds: []core.Kind{core.KindBooking}, priority: 5})
	r := New(registry)

	binding := r.Select(context.Background(), core.KindBooking, nil)
	assert.Equal(t, "bookings", binding.Tag)
	assert.Equal(t, "single capability match", binding.Reason)
	assert.False(t, binding.BoundAt.IsZero())
}

func TestSelectFallbackWhenNoMatch(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register(&stubHandler{tag: "bookings", kinds: []core.Kind{core.KindBooking}, priority: 5})
	r := New(registry)

	binding := r.Select(context.Background(), core.KindSupport, nil)
	assert.Equal(t, handler.FallbackTag, binding.Tag)
	assert.Equal(t, "no specialized handler available", binding.Reason)
}

func TestSelectPrefersHigherPriority(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register(&stubHandler{tag: "basic", kinds: []core.Kind{core.KindBooking}, priority: 1})
	registry.Register(&stubHandler{tag: "premium", kinds: []core.Kind{core.KindBooking}, priority: 9})
	r := New(registry)

	binding := r.Select(context.Background(), core.KindBooking, nil)
	assert.Equal(t, "premium", binding.Tag)
	assert.Equal(t, "highest priority among capability matches", binding.Reason)
}

func TestSelectTieBreaksByRecentSuccess(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register(&stubHandler{tag: "alpha", kinds: []core.Kind{core.KindBooking}, priority: 5})
	registry.Register(&stubHandler{tag: "beta", kinds: []core.Kind{core.KindBooking}, priority: 5})

	now := time.Now()
	r := New(registry, func(o *Options) {
		o.Clock = func() time.Time { return now }
	})

	r.RecordSuccess(core.KindBooking, "beta")
	now = now.Add(time.Minute)

	binding := r.Select(context.Background(), core.KindBooking, nil)
	assert.Equal(t, "beta", binding.Tag)

	// A more recent success flips the tie-break.
	r.RecordSuccess(core.KindBooking, "alpha")
	now = now.Add(time.Minute)

	binding = r.Select(context.Background(), core.KindBooking, nil)
	assert.Equal(t, "alpha", binding.Tag)
}

func TestSelectBreakerExcludesTrippedHandler(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register(&stubHandler{tag: "flaky", kinds: []core.Kind{core.KindSupport}, priority: 5})

	st := store.NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, st.AppendRecoveryAttempt(ctx, core.RecoveryAttempt{
			ConversationID: "c1",
			Seq:            i,
			HandlerTag:     "flaky",
			Strategy:       core.StrategyRetryHandler,
			Succeeded:      false,
			Timestamp:      time.Now().UTC(),
		}))
	}

	breaker := recovery.NewBreaker(st)
	r := New(registry, func(o *Options) {
		o.Breaker = breaker
	})

	binding := r.Select(ctx, core.KindSupport, nil)
	assert.Equal(t, handler.FallbackTag, binding.Tag)
}

func TestSwitchExplicitTag(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register(&stubHandler{tag: "bookings", kinds: []core.Kind{core.KindBooking}, priority: 5})
	r := New(registry)

	binding, err := r.Switch(context.Background(), "bookings")
	require.NoError(t, err)
	assert.Equal(t, "bookings", binding.Tag)
	assert.Equal(t, "explicit switch request", binding.Reason)

	_, err = r.Switch(context.Background(), "unknown")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSelectScoreBlendsIntentConfidence(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register(&stubHandler{tag: "bookings", kinds: []core.Kind{core.KindBooking}, priority: 10})
	r := New(registry)

	plain := r.Select(context.Background(), core.KindBooking, nil)
	confident := r.Select(context.Background(), core.KindBooking, &core.Intent{Name: "book_table", Confidence: 0.9})
	assert.Greater(t, confident.Score, plain.Score)
}
