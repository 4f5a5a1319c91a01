package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/handler"
	"github.com/hupe1980/convocore/internal/util"
	"github.com/hupe1980/convocore/logging"
	"github.com/hupe1980/convocore/notify"
	"github.com/hupe1980/convocore/recovery"
	"github.com/hupe1980/convocore/router"
	"github.com/hupe1980/convocore/workflow"
)

// Config defines the machine's operational bounds. All of them are
// configuration, not hard-coded constants.
type Config struct {
	// MaxClarifications bounds the information-gathering self-loop.
	MaxClarifications int
	// StageTimeout is the per-stage invocation deadline. Exceeding it is
	// treated identically to a stage error.
	StageTimeout time.Duration
	// ConflictRetries bounds reload-and-retry cycles after a lost version
	// race.
	ConflictRetries int
	// StoreRetries and StoreRetryBackoff bound the store-unavailable retry
	// loop before the recovery manager takes over.
	StoreRetries      int
	StoreRetryBackoff time.Duration
	// FailedReply is the graceful, non-technical message returned for a
	// failed conversation.
	FailedReply string
	// ClarifyPrompt is the reply template asking for missing slots. The
	// missing slot names are available as {{.Missing}}.
	ClarifyPrompt string
	// ConfirmPrompt is the reply asking the user to confirm an actionable
	// outcome.
	ConfirmPrompt string
	// TriggerReply is the reply template confirming a workflow hand-off. The
	// workflow kind is available as {{.Kind}}.
	TriggerReply string
}

// DefaultConfig provides safe defaults for development and tests.
var DefaultConfig = Config{
	MaxClarifications: 3,
	StageTimeout:      30 * time.Second,
	ConflictRetries:   5,
	StoreRetries:      3,
	StoreRetryBackoff: 200 * time.Millisecond,
	FailedReply:       "Sorry, something went wrong on our side. A member of our team will follow up with you shortly.",
	ClarifyPrompt:     `Could you share the following so I can proceed: {{join ", " .Missing}}?`,
	ConfirmPrompt:     "Should I go ahead? (yes/no)",
	TriggerReply:      "You're all set. I've started your {{.Kind}} request.",
}

// Options holds dependency and configuration overrides passed to NewMachine.
type Options struct {
	Config   Config
	Detector core.IntentDetector
	Notifier *notify.Notifier
	Logger   logging.Logger
}

// Machine sequences a turn from raw input to response, consulting the agent
// router, invoking the selected handler and handing actionable outcomes to
// the workflow orchestrator. Public methods are safe for concurrent use.
type Machine struct {
	store     core.StateStore
	registry  *handler.Registry
	router    *router.Router
	recovery  *recovery.Manager
	workflows *workflow.Orchestrator
	detector  core.IntentDetector
	notifier  *notify.Notifier
	logger    logging.Logger
	cfg       Config
}

// NewMachine constructs a Machine with optional overrides.
func NewMachine(
	store core.StateStore,
	registry *handler.Registry,
	rt *router.Router,
	rec *recovery.Manager,
	workflows *workflow.Orchestrator,
	optFns ...func(o *Options),
) *Machine {
	opts := Options{
		Config:   DefaultConfig,
		Detector: NewRuleDetector(),
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Machine{
		store:     store,
		registry:  registry,
		router:    rt,
		recovery:  rec,
		workflows: workflows,
		detector:  opts.Detector,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		cfg:       opts.Config,
	}
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	// ConversationID may differ from the requested id when recovery replaced
	// the conversation; subsequent messages should use it.
	ConversationID string
	Response       string
	HandlerTag     string
	Stage          core.Stage
	HumanHandoff   bool
	Diagnostics    map[string]any
}

// turnState accumulates per-turn working data across stage executions.
type turnState struct {
	conv   *core.Conversation
	seq    int
	text   string
	userID string
	turn   core.Turn

	responses     []string
	stagesWalked  []string
	strategies    []string
	workflowID    string
	replacementID string

	// pendingPlan is a retry/fallback strategy whose outcome is committed to
	// the attempt log once the re-executed stage succeeds or fails again.
	pendingPlan  *recovery.Plan
	pendingStage core.Stage
}

func (ts *turnState) appendResponse(s string) {
	if s != "" {
		ts.responses = append(ts.responses, s)
	}
}

// ProcessTurn runs one inbound message through the stage graph. A lost
// version race reloads and re-evaluates from fresh state, bounded by the
// configured conflict retries, so concurrent messages for the same
// conversation serialize without dropping or duplicating a turn.
func (m *Machine) ProcessTurn(ctx context.Context, conversationID, text, userID string) (*TurnResult, error) {
	for attempt := 0; ; attempt++ {
		conv, err := m.load(ctx, conversationID)
		if errors.Is(err, core.ErrNotFound) {
			// An unknown or expired id starts over: the conversation is
			// recreated under the same id in the greeting stage with no
			// carried context, as if it had just been created.
			conv, err = m.recreate(ctx, conversationID)
		}
		if err != nil {
			return nil, err
		}
		if conv.Flow.Stage == core.StageFailed {
			return m.failedResult(conv), nil
		}
		if conv.Flow.Stage == core.StageCompletion {
			return nil, core.ErrConversationEnded
		}

		res, err := m.runTurn(ctx, conv, text, userID)
		if errors.Is(err, core.ErrVersionConflict) {
			if attempt >= m.cfg.ConflictRetries {
				return nil, &core.MaxAttemptsError{
					Bound:  "write conflict retries",
					Limit:  m.cfg.ConflictRetries,
					Reason: "concurrent writers kept winning the version race",
				}
			}
			m.logger.Debug("version conflict, reloading", "conversation_id", conversationID, "attempt", attempt+1)
			continue
		}
		return res, err
	}
}

// recreate builds a fresh conversation under an id the store no longer
// knows, so a message to an expired conversation starts a new one instead of
// failing. A concurrent turn racing the recreation wins the version check;
// the loser loads what the winner wrote.
func (m *Machine) recreate(ctx context.Context, id string) (*core.Conversation, error) {
	conv := core.NewConversation(id, core.KindGeneral, nil)
	err := m.withStoreRetry(ctx, func() error {
		return m.store.Save(ctx, conv, 0)
	})
	if errors.Is(err, core.ErrVersionConflict) {
		return m.load(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	m.logger.Info("conversation recreated", "conversation_id", id)
	if m.notifier != nil {
		m.notifier.Publish(notify.TopicConversationCreated, map[string]any{
			"conversation_id": conv.ID,
			"kind":            string(conv.Kind),
		})
	}
	return conv, nil
}

func (m *Machine) runTurn(ctx context.Context, conv *core.Conversation, text, userID string) (*TurnResult, error) {
	started := time.Now()
	ts := &turnState{
		conv:   conv,
		seq:    conv.NextSeq(),
		text:   text,
		userID: userID,
		turn:   core.Turn{Seq: conv.NextSeq(), Input: text, UserID: userID, Timestamp: time.Now().UTC()},
	}

	for !conv.Flow.Stage.Terminal() {
		stage := conv.Flow.Stage
		ts.stagesWalked = append(ts.stagesWalked, stage.String())

		stepCtx, cancel := context.WithTimeout(ctx, m.cfg.StageTimeout)
		yield, err := m.step(stepCtx, ts, stage)
		cancel()

		if err != nil {
			if errors.Is(err, core.ErrVersionConflict) {
				return nil, err
			}
			if ts.pendingPlan != nil {
				m.commitPending(ctx, ts, false)
			}
			yield, err = m.recover(ctx, ts, stage, err)
			if err != nil {
				return nil, err
			}
			if yield {
				break
			}
			continue
		}

		if ts.pendingPlan != nil && stage == ts.pendingStage {
			m.commitPending(ctx, ts, true)
		}
		if yield {
			break
		}
	}

	ts.turn.Response = strings.Join(ts.responses, " ")
	ts.turn.Diagnostics = m.diagnostics(ts, started)
	conv.AppendTurn(ts.turn)
	if err := m.save(ctx, conv); err != nil {
		return nil, err
	}

	if m.notifier != nil {
		m.notifier.Publish(notify.TopicConversationTurnCompleted, map[string]any{
			"conversation_id": conv.ID,
			"seq":             ts.seq,
			"stage":           conv.Flow.Stage.String(),
			"handler_tag":     ts.turn.HandlerTag,
			"input":           ts.turn.Input,
			"response":        ts.turn.Response,
		})
	}

	resultID := conv.ID
	if ts.replacementID != "" {
		resultID = ts.replacementID
	}
	return &TurnResult{
		ConversationID: resultID,
		Response:       ts.turn.Response,
		HandlerTag:     ts.turn.HandlerTag,
		Stage:          conv.Flow.Stage,
		HumanHandoff:   conv.HumanHandoff,
		Diagnostics:    ts.turn.Diagnostics,
	}, nil
}

func (m *Machine) diagnostics(ts *turnState, started time.Time) map[string]any {
	diag := map[string]any{
		"stages":     ts.stagesWalked,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if ts.turn.Confidence > 0 {
		diag["confidence"] = ts.turn.Confidence
	}
	if len(ts.strategies) > 0 {
		diag["recovery_strategies"] = ts.strategies
	}
	if ts.workflowID != "" {
		diag["workflow_id"] = ts.workflowID
	}
	if ts.replacementID != "" {
		diag["replacement_conversation_id"] = ts.replacementID
	}
	return diag
}

func (m *Machine) failedResult(conv *core.Conversation) *TurnResult {
	return &TurnResult{
		ConversationID: conv.ID,
		Response:       m.cfg.FailedReply,
		Stage:          core.StageFailed,
		HumanHandoff:   true,
		Diagnostics:    map[string]any{"terminal": true},
	}
}

func (m *Machine) step(ctx context.Context, ts *turnState, stage core.Stage) (bool, error) {
	switch stage {
	case core.StageGreeting:
		return m.stepGreeting(ctx, ts)
	case core.StageIntentDetection:
		return m.stepIntentDetection(ctx, ts)
	case core.StageInformationGathering:
		return m.stepGathering(ctx, ts)
	case core.StageAgentRouting:
		return m.stepRouting(ctx, ts)
	case core.StageProcessing:
		return m.stepProcessing(ctx, ts)
	case core.StageConfirmation:
		return m.stepConfirmation(ctx, ts)
	case core.StageWorkflowTrigger:
		return m.stepWorkflowTrigger(ctx, ts)
	case core.StageErrorRecovery:
		// Persisted mid-recovery by a crashed process; fail into a fresh
		// recovery pass.
		return false, errors.New("conversation persisted in error recovery")
	default:
		return false, fmt.Errorf("stage %s has no executor", stage)
	}
}

func (m *Machine) stepGreeting(ctx context.Context, ts *turnState) (bool, error) {
	return false, m.advance(ctx, ts.conv, EventGreeted)
}

func (m *Machine) stepIntentDetection(ctx context.Context, ts *turnState) (bool, error) {
	conv := ts.conv
	intent, extracted, err := m.detector.Detect(ctx, conv.Kind, ts.text, conv.Flow.Slots)
	if err != nil {
		return false, fmt.Errorf("intent detection: %w", err)
	}
	for k, v := range extracted {
		conv.SetSlot(k, v)
	}
	conv.Flow.Intent = intent

	ev := EventIntentComplete
	if len(conv.MissingSlots(intent.RequiredSlots)) > 0 {
		ev = EventIntentNeedsSlots
	}
	return false, m.advance(ctx, conv, ev)
}

func (m *Machine) stepGathering(ctx context.Context, ts *turnState) (bool, error) {
	conv := ts.conv
	if conv.Flow.Intent == nil {
		return false, errors.New("information gathering without a detected intent")
	}

	_, extracted, err := m.detector.Detect(ctx, conv.Kind, ts.text, conv.Flow.Slots)
	if err != nil {
		return false, fmt.Errorf("slot extraction: %w", err)
	}
	for k, v := range extracted {
		conv.SetSlot(k, v)
	}

	missing := conv.MissingSlots(conv.Flow.Intent.RequiredSlots)
	if len(missing) == 0 {
		return false, m.advance(ctx, conv, EventSlotsFilled)
	}

	if conv.Flow.Clarifications >= m.cfg.MaxClarifications {
		return false, &core.MaxAttemptsError{
			Bound:  "max clarifications",
			Limit:  m.cfg.MaxClarifications,
			Reason: "max clarifications exceeded",
		}
	}
	conv.Flow.Clarifications++
	if err := m.advance(ctx, conv, EventClarify); err != nil {
		return false, err
	}
	ts.appendResponse(m.renderReply(m.cfg.ClarifyPrompt, map[string]any{"Missing": missing}))
	return true, nil
}

func (m *Machine) stepRouting(ctx context.Context, ts *turnState) (bool, error) {
	conv := ts.conv
	binding := m.router.Select(ctx, conv.Kind, conv.Flow.Intent)
	conv.Binding = binding
	m.logger.Debug("handler bound", "conversation_id", conv.ID, "tag", binding.Tag, "reason", binding.Reason)
	return false, m.advance(ctx, conv, EventHandlerBound)
}

func (m *Machine) stepProcessing(ctx context.Context, ts *turnState) (bool, error) {
	conv := ts.conv
	if conv.Binding == nil {
		return false, errors.New("processing without a bound handler")
	}
	h, ok := m.registry.Get(conv.Binding.Tag)
	if !ok {
		return false, &core.HandlerError{Tag: conv.Binding.Tag, Err: core.ErrNotFound}
	}

	input := core.TurnInput{
		ConversationID: conv.ID,
		Seq:            ts.seq,
		Kind:           conv.Kind,
		Text:           ts.text,
		UserID:         ts.userID,
		Intent:         conv.Flow.Intent,
		Slots:          conv.Flow.Slots,
	}
	start := time.Now()
	result, err := h.Handle(ctx, input)
	if err != nil {
		m.logger.Warn("handler failed", "tag", h.Tag(), "conversation_id", conv.ID, "duration", time.Since(start).String(), "error", err)
		return false, &core.HandlerError{Tag: h.Tag(), Err: err}
	}
	if result == nil {
		return false, &core.HandlerError{Tag: h.Tag(), Err: errors.New("nil handler result")}
	}
	m.router.RecordSuccess(conv.Kind, h.Tag())
	ts.turn.HandlerTag = h.Tag()
	ts.turn.Confidence = result.Confidence
	ts.appendResponse(result.Response)

	// Handler-demanded fields join the intent's requirements so any re-route
	// after a rejected confirmation gathers them.
	if len(result.RequiredSlots) > 0 && conv.Flow.Intent != nil {
		conv.Flow.Intent.RequiredSlots = unionSlots(conv.Flow.Intent.RequiredSlots, result.RequiredSlots)
	}

	if result.Actionable {
		kind := result.WorkflowKind
		if kind == "" {
			kind = string(conv.Kind)
		}
		payload := result.Payload
		if payload == nil {
			payload = map[string]any{}
			for k, v := range conv.Flow.Slots {
				payload[k] = v
			}
		}
		conv.Flow.Pending = &core.WorkflowRequest{Kind: kind, Payload: payload}
		if err := m.advance(ctx, conv, EventActionable); err != nil {
			return false, err
		}
		ts.appendResponse(m.renderReply(m.cfg.ConfirmPrompt, nil))
		return true, nil
	}

	return true, m.advance(ctx, conv, EventInformational)
}

func (m *Machine) stepConfirmation(ctx context.Context, ts *turnState) (bool, error) {
	conv := ts.conv
	if affirmative(ts.text) {
		return false, m.advance(ctx, conv, EventConfirmed)
	}

	// Rejection or modification: merge whatever the message adds and
	// re-route with existing slots preserved.
	_, extracted, err := m.detector.Detect(ctx, conv.Kind, ts.text, conv.Flow.Slots)
	if err == nil {
		for k, v := range extracted {
			conv.SetSlot(k, v)
		}
	}
	return false, m.advance(ctx, conv, EventRejected)
}

func (m *Machine) stepWorkflowTrigger(ctx context.Context, ts *turnState) (bool, error) {
	conv := ts.conv
	pending := conv.Flow.Pending
	if pending == nil {
		return false, errors.New("workflow trigger without a pending request")
	}

	ref, err := m.workflows.Trigger(ctx, conv.ID, ts.seq, pending.Kind, pending.Payload)
	if err != nil {
		// One immediate retry with the same idempotency key before the
		// recovery ladder takes over.
		ref, err = m.workflows.Trigger(ctx, conv.ID, ts.seq, pending.Kind, pending.Payload)
	}
	if err != nil {
		return false, err
	}

	conv.Flow.Pending = nil
	ts.workflowID = ref.ID
	if err := m.advance(ctx, conv, EventTriggerAccepted); err != nil {
		return false, err
	}
	ts.appendResponse(m.renderReply(m.cfg.TriggerReply, map[string]any{"Kind": pending.Kind}))
	return true, nil
}

// recover funnels a stage failure through the strategy ladder. It returns
// yield=true when the turn must end (escalation or replacement) and
// yield=false when the stage loop should continue from the recovered stage.
func (m *Machine) recover(ctx context.Context, ts *turnState, stage core.Stage, cause error) (bool, error) {
	conv := ts.conv
	m.logger.Warn("stage failed", "conversation_id", conv.ID, "stage", stage.String(), "error", cause)

	if err := m.advance(ctx, conv, EventFail); err != nil {
		return false, err
	}
	conv.Flow.LastError = cause.Error()

	plan, err := m.recovery.Recover(ctx, conv, ts.seq, stage, cause, handler.FallbackTag)
	if err != nil {
		return false, err
	}
	ts.strategies = append(ts.strategies, plan.Strategy.String())

	switch plan.Strategy {
	case core.StrategyRetryHandler:
		if err := m.recoverTo(ctx, conv, stage); err != nil {
			return false, err
		}
		ts.pendingPlan, ts.pendingStage = plan, stage
		return false, nil

	case core.StrategyFallbackHandler:
		conv.Binding = m.router.FallbackBinding("recovery fallback after " + stage.String() + " failure")
		if err := m.recoverTo(ctx, conv, stage); err != nil {
			return false, err
		}
		ts.pendingPlan, ts.pendingStage = plan, stage
		return false, nil

	case core.StrategyResetState:
		conv.Flow.Slots = map[string]any{}
		for k, v := range conv.Seed {
			conv.Flow.Slots[k] = v
		}
		conv.Flow.Intent = nil
		conv.Flow.Clarifications = 0
		conv.Flow.Pending = nil
		conv.Flow.LastError = ""
		if err := m.recoverTo(ctx, conv, plan.ResetTo); err != nil {
			return false, err
		}
		m.recordStrategy(ctx, ts, stage, plan, true)
		return false, nil

	case core.StrategyReplaceConversation:
		replacement := core.NewConversation(core.NewID(), conv.Kind, conv.Seed)
		if err := m.save(ctx, replacement); err != nil {
			return false, err
		}
		if err := m.recoverTo(ctx, conv, core.StageFailed); err != nil {
			return false, err
		}
		m.recordStrategy(ctx, ts, stage, plan, true)
		ts.replacementID = replacement.ID
		ts.appendResponse("I've had trouble completing that, so I started a fresh conversation for you. Could you repeat what you need?")
		m.publishFailed(conv, "replaced")
		return true, nil

	case core.StrategyEscalate:
		conv.HumanHandoff = true
		if err := m.recoverTo(ctx, conv, core.StageFailed); err != nil {
			return false, err
		}
		m.recordStrategy(ctx, ts, stage, plan, false)
		ts.appendResponse(m.cfg.FailedReply)
		m.publishFailed(conv, plan.Reason)
		return true, nil

	default:
		return false, fmt.Errorf("unknown recovery strategy %d", plan.Strategy)
	}
}

func (m *Machine) commitPending(ctx context.Context, ts *turnState, succeeded bool) {
	m.recordStrategy(ctx, ts, ts.pendingStage, ts.pendingPlan, succeeded)
	ts.pendingPlan = nil
}

func (m *Machine) recordStrategy(ctx context.Context, ts *turnState, stage core.Stage, plan *recovery.Plan, succeeded bool) {
	if err := m.recovery.Record(ctx, ts.conv, ts.seq, stage, plan, succeeded); err != nil {
		m.logger.Error("failed to record recovery attempt", "conversation_id", ts.conv.ID, "strategy", plan.Strategy.String(), "error", err)
	}
}

// renderReply expands a configured reply template, falling back to the raw
// text when the template is malformed so a configuration typo degrades the
// wording, not the conversation.
func (m *Machine) renderReply(tpl string, data map[string]any) string {
	out, err := util.RenderTemplate(tpl, data)
	if err != nil {
		m.logger.Warn("reply template malformed, using raw text", "error", err)
		return tpl
	}
	return out
}

func (m *Machine) publishFailed(conv *core.Conversation, reason string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(notify.TopicConversationFailed, map[string]any{
		"conversation_id": conv.ID,
		"reason":          reason,
		"human_handoff":   conv.HumanHandoff,
	})
}

// advance applies one table edge and persists it as an atomic
// read-modify-write guarded by the flow-state version.
func (m *Machine) advance(ctx context.Context, conv *core.Conversation, ev Event) error {
	from := conv.Flow.Stage
	to, err := Next(from, ev)
	if err != nil {
		return err
	}
	conv.Flow.Stage = to
	if err := m.save(ctx, conv); err != nil {
		conv.Flow.Stage = from
		return err
	}
	m.logger.Debug("stage transition", "conversation_id", conv.ID, "from", from.String(), "to", to.String(), "version", conv.Flow.Version)
	m.publishStageChange(conv, from, to)
	return nil
}

// recoverTo re-enters a stage from error recovery.
func (m *Machine) recoverTo(ctx context.Context, conv *core.Conversation, to core.Stage) error {
	if !CanRecoverTo(to) {
		return fmt.Errorf("recovery cannot re-enter stage %s", to)
	}
	from := conv.Flow.Stage
	conv.Flow.Stage = to
	if err := m.save(ctx, conv); err != nil {
		conv.Flow.Stage = from
		return err
	}
	m.publishStageChange(conv, from, to)
	return nil
}

func (m *Machine) publishStageChange(conv *core.Conversation, from, to core.Stage) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(notify.TopicConversationStageChanged, map[string]any{
		"conversation_id": conv.ID,
		"from":            from.String(),
		"to":              to.String(),
		"version":         conv.Flow.Version,
	})
}

// EndConversation moves the flow directly to the completion terminal
// regardless of current stage, short-circuiting any in-flight recovery.
// Workflows already handed off are not implicitly cancelled.
func (m *Machine) EndConversation(ctx context.Context, conversationID string) error {
	for attempt := 0; attempt <= m.cfg.ConflictRetries; attempt++ {
		conv, err := m.load(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Flow.Stage.Terminal() {
			return nil
		}
		if err := m.advance(ctx, conv, EventEnd); err != nil {
			if errors.Is(err, core.ErrVersionConflict) {
				continue
			}
			return err
		}
		if m.notifier != nil {
			m.notifier.Publish(notify.TopicConversationEnded, map[string]any{"conversation_id": conv.ID})
		}
		return nil
	}
	return &core.MaxAttemptsError{
		Bound:  "write conflict retries",
		Limit:  m.cfg.ConflictRetries,
		Reason: "could not end conversation",
	}
}

// ForceRecovery manually runs the recovery ladder for a conversation,
// bypassing normal error detection. State-level strategies apply directly;
// retry/fallback plans rebind and re-enter the current stage without
// re-executing it.
func (m *Machine) ForceRecovery(ctx context.Context, conversationID string) error {
	conv, err := m.load(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Flow.Stage.Terminal() {
		return core.ErrConversationEnded
	}

	ts := &turnState{conv: conv, seq: conv.NextSeq()}
	stage := conv.Flow.Stage
	if _, err := m.recover(ctx, ts, stage, errors.New("manual recovery trigger")); err != nil {
		return err
	}
	// No stage re-execution follows a manual trigger; commit any
	// retry/fallback plan as applied.
	if ts.pendingPlan != nil {
		m.commitPending(ctx, ts, true)
	}
	return nil
}

// load fetches the conversation, retrying store outages with backoff.
func (m *Machine) load(ctx context.Context, id string) (*core.Conversation, error) {
	var conv *core.Conversation
	err := m.withStoreRetry(ctx, func() error {
		var err error
		conv, err = m.store.Load(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// save persists the conversation guarded by its current version, retrying
// store outages with backoff.
func (m *Machine) save(ctx context.Context, conv *core.Conversation) error {
	expected := conv.Flow.Version
	return m.withStoreRetry(ctx, func() error {
		return m.store.Save(ctx, conv, expected)
	})
}

func (m *Machine) withStoreRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= m.cfg.StoreRetries; attempt++ {
		if err = op(); err == nil || !core.IsStoreUnavailable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(m.cfg.StoreRetryBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}

var affirmWords = map[string]bool{
	"yes": true, "y": true, "yeah": true, "yep": true, "sure": true,
	"ok": true, "okay": true, "confirm": true, "confirmed": true, "correct": true,
}

func affirmative(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.Trim(normalized, "!.,")
	if affirmWords[normalized] {
		return true
	}
	return strings.HasPrefix(normalized, "yes")
}

func unionSlots(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
