package recovery

import (
	"context"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/logging"
	"github.com/hupe1980/convocore/notify"
)

// Plan directs the flow machine after a stage failure. Exactly one strategy
// is chosen per failure; the machine applies it, observes the outcome and
// commits the attempt via Record before the next failure can be planned.
type Plan struct {
	Strategy core.Strategy
	// Reason is the human-readable cause the plan responds to.
	Reason string
	// ResetTo is the stage the flow re-enters for StrategyResetState.
	ResetTo core.Stage
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// AttemptRetention bounds how long attempt records are kept before Sweep
	// garbage-collects them.
	AttemptRetention time.Duration
	// Clock overrides time.Now for tests.
	Clock func() time.Time

	Notifier *notify.Notifier
	Logger   logging.Logger
}

// Manager selects and records recovery strategies. All per-turn bounds are
// computed from the durable attempt log so they survive process restarts.
type Manager struct {
	store core.StateStore

	retention time.Duration
	now       func() time.Time
	notifier  *notify.Notifier
	logger    logging.Logger
}

// NewManager constructs a recovery manager over the given state store.
func NewManager(store core.StateStore, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		AttemptRetention: 24 * time.Hour,
		Clock:            time.Now,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		store:     store,
		retention: opts.AttemptRetention,
		now:       opts.Clock,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
	}
}

// Recover selects the next applicable strategy for a failed stage of the
// given turn. Strategies already committed for this (conversation, turn) are
// skipped; strategy 1 is skipped when no handler is bound and strategy 2 when
// the fallback is already bound. Once the ladder is exhausted the returned
// plan escalates.
func (m *Manager) Recover(ctx context.Context, conv *core.Conversation, seq int, stage core.Stage, cause error, fallbackTag string) (*Plan, error) {
	tried, err := m.triedStrategies(ctx, conv.ID, seq)
	if err != nil {
		// The attempt log is unreachable; the only safe move is escalation.
		m.logger.Error("recovery cannot read attempt log", "error", err)
		return &Plan{Strategy: core.StrategyEscalate, Reason: cause.Error()}, nil
	}

	reason := cause.Error()
	for s := core.StrategyRetryHandler; s <= core.StrategyEscalate; s++ {
		if tried[s] {
			continue
		}
		switch s {
		case core.StrategyRetryHandler:
			if conv.Binding == nil {
				continue
			}
		case core.StrategyFallbackHandler:
			if conv.Binding != nil && conv.Binding.Tag == fallbackTag {
				continue
			}
		}
		plan := &Plan{Strategy: s, Reason: reason}
		if s == core.StrategyResetState {
			plan.ResetTo = core.StageIntentDetection
		}
		m.logger.Info("recovery plan", "conversation_id", conv.ID, "seq", seq, "stage", stage.String(), "strategy", s.String(), "reason", reason)
		return plan, nil
	}

	// Ladder exhausted within a single turn.
	return &Plan{Strategy: core.StrategyEscalate, Reason: reason}, nil
}

// Record commits the outcome of an applied strategy to the durable log and
// publishes a recovery notification.
func (m *Manager) Record(ctx context.Context, conv *core.Conversation, seq int, stage core.Stage, plan *Plan, succeeded bool) error {
	attempt := core.RecoveryAttempt{
		ConversationID: conv.ID,
		Seq:            seq,
		Stage:          stage,
		Strategy:       plan.Strategy,
		Reason:         plan.Reason,
		Succeeded:      succeeded,
		Timestamp:      m.now().UTC(),
	}
	if conv.Binding != nil {
		attempt.HandlerTag = conv.Binding.Tag
	}
	if err := m.store.AppendRecoveryAttempt(ctx, attempt); err != nil {
		return err
	}
	if m.notifier != nil {
		m.notifier.Publish(notify.TopicRecoveryAttempted, map[string]any{
			"conversation_id": conv.ID,
			"seq":             seq,
			"stage":           stage.String(),
			"strategy":        plan.Strategy.String(),
			"reason":          plan.Reason,
			"succeeded":       succeeded,
		})
	}
	return nil
}

// Sweep garbage-collects attempt records older than the retention window.
func (m *Manager) Sweep(ctx context.Context) error {
	return m.store.PruneRecoveryAttempts(ctx, m.now().Add(-m.retention))
}

func (m *Manager) triedStrategies(ctx context.Context, conversationID string, seq int) (map[core.Strategy]bool, error) {
	attempts, err := m.store.RecoveryAttempts(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	tried := map[core.Strategy]bool{}
	for _, a := range attempts {
		if a.ConversationID == conversationID && a.Seq == seq {
			tried[a.Strategy] = true
		}
	}
	return tried, nil
}
