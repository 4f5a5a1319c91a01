// Package config loads the orchestration core's tunables from an optional
// YAML file plus CONVOCORE_* environment overrides. Every knob has a safe
// default so a zero-config setup works for development and tests.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the orchestration core. All bounds the flow
// and recovery layers enforce are configuration, not hard-coded constants.
type Config struct {
	Flow struct {
		// MaxClarifications bounds the information-gathering self-loop before
		// control passes to error recovery.
		MaxClarifications int `mapstructure:"max_clarifications"`
		// StageTimeout is the per-stage invocation deadline. Exceeding it is
		// treated identically to a stage error.
		StageTimeout time.Duration `mapstructure:"stage_timeout"`
		// ConflictRetries bounds reload-and-retry cycles after an optimistic
		// write loses the race.
		ConflictRetries int `mapstructure:"conflict_retries"`
		// FailedReply is the graceful, non-technical message returned for a
		// conversation in the failed stage.
		FailedReply string `mapstructure:"failed_reply"`
		// ClarifyPrompt, ConfirmPrompt and TriggerReply are the reply
		// templates for built-in machine messages.
		ClarifyPrompt string `mapstructure:"clarify_prompt"`
		ConfirmPrompt string `mapstructure:"confirm_prompt"`
		TriggerReply  string `mapstructure:"trigger_reply"`
	} `mapstructure:"flow"`

	Store struct {
		RedisURL string `mapstructure:"redis_url"`
		// ConversationTTL is the idle period after which conversation keys
		// expire.
		ConversationTTL time.Duration `mapstructure:"conversation_ttl"`
		// WorkflowRefTTL must exceed ConversationTTL so workflow status stays
		// queryable after the conversation expires.
		WorkflowRefTTL time.Duration `mapstructure:"workflow_ref_ttl"`
		// AttemptRetention bounds the recovery-attempt window kept for the
		// circuit breaker before garbage collection.
		AttemptRetention time.Duration `mapstructure:"attempt_retention"`
		// Retries and RetryBackoff bound the store-unavailable retry loop
		// before the recovery manager takes over.
		Retries      int           `mapstructure:"retries"`
		RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	} `mapstructure:"store"`

	Breaker struct {
		// Window is the rolling window over which per-handler failure rates
		// are computed from the durable attempt log.
		Window time.Duration `mapstructure:"window"`
		// FailureThreshold is the failure rate (0..1) that trips the breaker.
		FailureThreshold float64 `mapstructure:"failure_threshold"`
		// MinSamples is the minimum number of observations before the breaker
		// may trip.
		MinSamples int `mapstructure:"min_samples"`
		// Cooldown is how long a tripped handler is excluded from selection.
		Cooldown time.Duration `mapstructure:"cooldown"`
	} `mapstructure:"breaker"`

	Workflow struct {
		Queue string `mapstructure:"queue"`
		// Retention keeps completed task metadata queryable.
		Retention time.Duration `mapstructure:"retention"`
		// PollInterval drives the out-of-band status watcher.
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"workflow"`

	Notifier struct {
		BufferSize int `mapstructure:"buffer_size"`
	} `mapstructure:"notifier"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("flow.max_clarifications", 3)
	v.SetDefault("flow.stage_timeout", 30*time.Second)
	v.SetDefault("flow.conflict_retries", 5)
	v.SetDefault("flow.failed_reply", "Sorry, something went wrong on our side. A member of our team will follow up with you shortly.")
	v.SetDefault("flow.clarify_prompt", `Could you share the following so I can proceed: {{join ", " .Missing}}?`)
	v.SetDefault("flow.confirm_prompt", "Should I go ahead? (yes/no)")
	v.SetDefault("flow.trigger_reply", "You're all set. I've started your {{.Kind}} request.")

	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.conversation_ttl", 24*time.Hour)
	v.SetDefault("store.workflow_ref_ttl", 72*time.Hour)
	v.SetDefault("store.attempt_retention", 24*time.Hour)
	v.SetDefault("store.retries", 3)
	v.SetDefault("store.retry_backoff", 200*time.Millisecond)

	v.SetDefault("breaker.window", 5*time.Minute)
	v.SetDefault("breaker.failure_threshold", 0.5)
	v.SetDefault("breaker.min_samples", 5)
	v.SetDefault("breaker.cooldown", 2*time.Minute)

	v.SetDefault("workflow.queue", "workflows")
	v.SetDefault("workflow.retention", 72*time.Hour)
	v.SetDefault("workflow.poll_interval", 5*time.Second)

	v.SetDefault("notifier.buffer_size", 256)
}

// Load reads configuration from config.yaml (working directory or ./config)
// and the environment. A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("convocore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in defaults without touching file or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal over pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
