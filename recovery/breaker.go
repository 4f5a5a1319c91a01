package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/logging"
)

// BreakerOptions configures a Breaker.
type BreakerOptions struct {
	// Window is the rolling window over which failure rates are computed.
	Window time.Duration
	// FailureThreshold is the failure rate (0..1) that trips the breaker.
	FailureThreshold float64
	// MinSamples is the minimum number of recorded attempts for a tag before
	// the breaker may trip.
	MinSamples int
	// Cooldown is how long a tripped handler stays excluded from selection.
	Cooldown time.Duration
	// Clock overrides time.Now for tests.
	Clock func() time.Time

	Logger logging.Logger
}

// Breaker excludes failing handlers from selection. Its statistics are
// computed from the durable recovery-attempt log, not in-memory counters, so
// a restarted process inherits the same view of handler health. Only the
// tripped-at timestamps are cached in memory; they are re-derived from the
// log on the next Allow call after a restart.
type Breaker struct {
	store core.StateStore

	window           time.Duration
	failureThreshold float64
	minSamples       int
	cooldown         time.Duration
	now              func() time.Time
	logger           logging.Logger

	mu        sync.Mutex
	trippedAt map[string]time.Time
}

// NewBreaker constructs a circuit breaker over the given state store.
func NewBreaker(store core.StateStore, optFns ...func(o *BreakerOptions)) *Breaker {
	opts := BreakerOptions{
		Window:           5 * time.Minute,
		FailureThreshold: 0.5,
		MinSamples:       5,
		Cooldown:         2 * time.Minute,
		Clock:            time.Now,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Breaker{
		store:            store,
		window:           opts.Window,
		failureThreshold: opts.FailureThreshold,
		minSamples:       opts.MinSamples,
		cooldown:         opts.Cooldown,
		now:              opts.Clock,
		logger:           opts.Logger,
		trippedAt:        map[string]time.Time{},
	}
}

// Allow reports whether the handler tag is currently selectable. A store
// outage fails open: selection proceeds and the recovery ladder catches any
// resulting handler failures.
func (b *Breaker) Allow(ctx context.Context, tag string) bool {
	now := b.now()

	b.mu.Lock()
	if trippedAt, ok := b.trippedAt[tag]; ok {
		if now.Before(trippedAt.Add(b.cooldown)) {
			b.mu.Unlock()
			return false
		}
		delete(b.trippedAt, tag)
	}
	b.mu.Unlock()

	attempts, err := b.store.RecoveryAttempts(ctx, now.Add(-b.window))
	if err != nil {
		b.logger.Warn("breaker failed to read attempt log, failing open", "error", err)
		return true
	}

	var total, failures int
	for _, a := range attempts {
		if a.HandlerTag != tag {
			continue
		}
		total++
		if !a.Succeeded {
			failures++
		}
	}
	if total < b.minSamples {
		return true
	}
	if float64(failures)/float64(total) < b.failureThreshold {
		return true
	}

	b.mu.Lock()
	b.trippedAt[tag] = now
	b.mu.Unlock()
	b.logger.Warn("breaker tripped", "handler_tag", tag, "failures", failures, "total", total)
	return false
}
