// Package convocore provides a high-level façade over the conversation flow
// machine and its services (state store, handler registry, router, recovery
// manager, workflow orchestrator & notifier) enabling rapid construction of
// multi-turn conversational systems. Most applications interact with this
// package by:
//  1. Creating a Core via New() (optionally overriding default in-memory services)
//  2. Registering one or more domain handlers (booking, inquiry, support, custom)
//  3. Driving turns with SendMessage and observing events via the Notifier
//
// The façade delegates turn sequencing to flow.Machine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply the Redis-backed store,
// the asynq-backed workflow engine and a structured logger.
package convocore

import (
	"context"

	"github.com/hupe1980/convocore/config"
	"github.com/hupe1980/convocore/core"
	"github.com/hupe1980/convocore/flow"
	"github.com/hupe1980/convocore/handler"
	"github.com/hupe1980/convocore/logging"
	"github.com/hupe1980/convocore/notify"
	"github.com/hupe1980/convocore/recovery"
	"github.com/hupe1980/convocore/router"
	"github.com/hupe1980/convocore/store"
	"github.com/hupe1980/convocore/transcript"
	"github.com/hupe1980/convocore/workflow"
)

// Options configures the Core instance.
type Options struct {
	// Config holds every tunable bound (clarification limits, timeouts,
	// breaker thresholds). Defaults to config.Default().
	Config *config.Config

	// StateStore persists conversations, workflow references and the
	// recovery-attempt log (defaults to an in-memory implementation).
	StateStore core.StateStore

	// Engine is the durable-execution backend workflows are handed to
	// (defaults to an in-memory implementation).
	Engine core.Engine

	// Detector classifies user intent and extracts slots (defaults to the
	// built-in rule detector).
	Detector core.IntentDetector

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Core is the high-level façade aggregating the flow machine and services.
type Core struct {
	opts        Options
	store       core.StateStore
	registry    *handler.Registry
	router      *router.Router
	machine     *flow.Machine
	recovery    *recovery.Manager
	workflows   *workflow.Orchestrator
	notifier    *notify.Notifier
	transcripts *transcript.Index
	logger      logging.Logger
}

// New creates a new Core instance with optional overrides. Any unset service
// is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Core {
	opts := Options{
		Config:   config.Default(),
		Detector: flow.NewRuleDetector(),
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.StateStore == nil {
		opts.StateStore = store.NewInMemoryStore(func(o *store.InMemoryOptions) {
			o.ConversationTTL = opts.Config.Store.ConversationTTL
			o.WorkflowRefTTL = opts.Config.Store.WorkflowRefTTL
		})
	}
	if opts.Engine == nil {
		opts.Engine = workflow.NewInMemoryEngine()
	}

	notifier := notify.New(func(o *notify.Options) {
		o.BufferSize = opts.Config.Notifier.BufferSize
		o.Logger = opts.Logger
	})

	transcripts := transcript.NewIndex()
	notifier.Subscribe(transcripts)

	registry := handler.NewRegistry()

	breaker := recovery.NewBreaker(opts.StateStore, func(o *recovery.BreakerOptions) {
		o.Window = opts.Config.Breaker.Window
		o.FailureThreshold = opts.Config.Breaker.FailureThreshold
		o.MinSamples = opts.Config.Breaker.MinSamples
		o.Cooldown = opts.Config.Breaker.Cooldown
		o.Logger = opts.Logger
	})

	rt := router.New(registry, func(o *router.Options) {
		o.Breaker = breaker
		o.Logger = opts.Logger
	})

	rec := recovery.NewManager(opts.StateStore, func(o *recovery.ManagerOptions) {
		o.AttemptRetention = opts.Config.Store.AttemptRetention
		o.Notifier = notifier
		o.Logger = opts.Logger
	})

	workflows := workflow.New(opts.Engine, opts.StateStore, func(o *workflow.Options) {
		o.PollInterval = opts.Config.Workflow.PollInterval
		o.Notifier = notifier
		o.Logger = opts.Logger
	})

	machine := flow.NewMachine(opts.StateStore, registry, rt, rec, workflows, func(o *flow.Options) {
		o.Config = flow.Config{
			MaxClarifications: opts.Config.Flow.MaxClarifications,
			StageTimeout:      opts.Config.Flow.StageTimeout,
			ConflictRetries:   opts.Config.Flow.ConflictRetries,
			StoreRetries:      opts.Config.Store.Retries,
			StoreRetryBackoff: opts.Config.Store.RetryBackoff,
			FailedReply:       opts.Config.Flow.FailedReply,
			ClarifyPrompt:     opts.Config.Flow.ClarifyPrompt,
			ConfirmPrompt:     opts.Config.Flow.ConfirmPrompt,
			TriggerReply:      opts.Config.Flow.TriggerReply,
		}
		o.Detector = opts.Detector
		o.Notifier = notifier
		o.Logger = opts.Logger
	})

	return &Core{
		opts:        opts,
		store:       opts.StateStore,
		registry:    registry,
		router:      rt,
		machine:     machine,
		recovery:    rec,
		workflows:   workflows,
		notifier:    notifier,
		transcripts: transcripts,
		logger:      opts.Logger,
	}
}

// RegisterHandler adds a domain handler to the underlying registry.
func (c *Core) RegisterHandler(h core.Handler) { c.registry.Register(h) }

// Notifier exposes the event notifier so callers can subscribe sinks.
func (c *Core) Notifier() *notify.Notifier { return c.notifier }

// CreateConversation starts a new conversation of the given kind. Seed
// context, such as the channel or a customer id, pre-populates the slot map
// and survives a state reset.
func (c *Core) CreateConversation(ctx context.Context, kind core.Kind, seed map[string]any) (*core.Conversation, error) {
	if !core.ValidKind(kind) {
		return nil, &core.ValidationError{Field: "kind", Message: "unknown conversation kind: " + string(kind)}
	}

	conv := core.NewConversation(core.NewID(), kind, seed)
	if err := c.store.Save(ctx, conv, 0); err != nil {
		return nil, err
	}

	c.logger.Info("conversation created", "conversation_id", conv.ID, "kind", string(kind))
	c.notifier.Publish(notify.TopicConversationCreated, map[string]any{
		"conversation_id": conv.ID,
		"kind":            string(kind),
	})
	return conv, nil
}

// SendMessage processes one user message through the stage graph and returns
// the assembled response. Concurrent calls for the same conversation
// serialize through optimistic versioning; neither turn is dropped. An id
// the store no longer holds (expired or never seen) starts a fresh
// conversation under that id.
//
// The returned result's ConversationID may differ from the requested id when
// recovery replaced the conversation.
func (c *Core) SendMessage(ctx context.Context, conversationID, text, userID string) (*flow.TurnResult, error) {
	if conversationID == "" {
		return nil, &core.ValidationError{Field: "conversation_id", Message: "must not be empty"}
	}
	if text == "" {
		return nil, &core.ValidationError{Field: "text", Message: "must not be empty"}
	}
	return c.machine.ProcessTurn(ctx, conversationID, text, userID)
}

// SwitchHandler manually rebinds the conversation to the named handler,
// overriding routing for subsequent turns. Accumulated slots and stage are
// untouched.
func (c *Core) SwitchHandler(ctx context.Context, conversationID, tag string) error {
	conv, err := c.store.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Flow.Stage.Terminal() {
		return core.ErrConversationEnded
	}

	binding, err := c.router.Switch(ctx, tag)
	if err != nil {
		return err
	}
	conv.Binding = binding
	return c.store.Save(ctx, conv, conv.Flow.Version)
}

// EndConversation moves the conversation to its completion terminal
// regardless of current stage. Already-triggered workflows keep running;
// cancel them explicitly via CancelWorkflow if needed.
func (c *Core) EndConversation(ctx context.Context, conversationID string) error {
	return c.machine.EndConversation(ctx, conversationID)
}

// ForceRecovery manually runs the recovery ladder for a conversation without
// waiting for a stage failure.
func (c *Core) ForceRecovery(ctx context.Context, conversationID string) error {
	return c.machine.ForceRecovery(ctx, conversationID)
}

// GetHistory returns the conversation's turns in order along with its
// current stage.
func (c *Core) GetHistory(ctx context.Context, conversationID string) ([]core.Turn, core.Stage, error) {
	conv, err := c.store.Load(ctx, conversationID)
	if err != nil {
		return nil, "", err
	}
	return conv.Turns, conv.Flow.Stage, nil
}

// SearchTranscripts scans the conversation's indexed turns for the query,
// matching input and response text case-insensitively. Indexing runs behind
// the notifier, so a turn that just completed may take a moment to appear.
func (c *Core) SearchTranscripts(conversationID, query string, limit int) []transcript.Entry {
	return c.transcripts.Search(conversationID, query, limit)
}

// WorkflowStatus relays the durable-execution engine's view of a workflow.
func (c *Core) WorkflowStatus(ctx context.Context, workflowID string) (core.WorkflowStatus, error) {
	return c.workflows.Status(ctx, workflowID)
}

// CancelWorkflow requests termination of a triggered workflow.
func (c *Core) CancelWorkflow(ctx context.Context, workflowID string) error {
	return c.workflows.Cancel(ctx, workflowID)
}

// WatchWorkflow polls the workflow until it reaches a terminal status,
// publishing status changes through the notifier. Blocks; run it in its own
// goroutine.
func (c *Core) WatchWorkflow(ctx context.Context, workflowID string) {
	c.workflows.Watch(ctx, workflowID)
}

// Sweep garbage-collects recovery-attempt records older than the configured
// retention. Call it periodically from a maintenance loop.
func (c *Core) Sweep(ctx context.Context) error {
	return c.recovery.Sweep(ctx)
}

// Close releases the notifier's worker goroutine. The Core must not be used
// afterwards.
func (c *Core) Close() {
	c.notifier.Close()
}
