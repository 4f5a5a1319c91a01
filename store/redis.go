package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/hupe1980/convocore/core"
)

const (
	convKeyPrefix   = "convocore:conv:"
	verKeyPrefix    = "convocore:ver:"
	wfIDKeyPrefix   = "convocore:wf:id:"
	wfKeyKeyPrefix  = "convocore:wf:key:"
	attemptsZSetKey = "convocore:attempts"
)

// saveScript performs the compare-version-and-set atomically. KEYS[1] is the
// conversation document, KEYS[2] the companion version counter. Returns the
// new version, or -1 on a version mismatch.
var saveScript = redis.NewScript(`
local ver = redis.call('GET', KEYS[2])
if (not ver) and ARGV[2] ~= '0' then
  return -1
end
if ver and ver ~= ARGV[2] then
  return -1
end
local next = tonumber(ARGV[2]) + 1
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], next, 'PX', ARGV[3])
return next
`)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	ConversationTTL  time.Duration
	WorkflowRefTTL   time.Duration
	AttemptRetention time.Duration
}

// RedisStore is a StateStore backed by Redis. Conversations are JSON
// documents guarded by a companion version counter; the compare-and-set runs
// server-side in a Lua script so concurrent writers for the same conversation
// serialize on the version check. Workflow references live under their own
// key prefixes with a longer TTL, and recovery attempts sit in a sorted set
// scored by timestamp for rolling-window queries.
type RedisStore struct {
	client *redis.Client

	conversationTTL  time.Duration
	workflowRefTTL   time.Duration
	attemptRetention time.Duration
}

var _ core.StateStore = (*RedisStore)(nil)

// NewRedisStore connects to the given redis URL and verifies connectivity.
func NewRedisStore(ctx context.Context, url string, optFns ...func(o *RedisOptions)) (*RedisStore, error) {
	opts := RedisOptions{
		ConversationTTL:  24 * time.Hour,
		WorkflowRefTTL:   72 * time.Hour,
		AttemptRetention: 24 * time.Hour,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	ropt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(ropt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{
		client:           client,
		conversationTTL:  opts.ConversationTTL,
		workflowRefTTL:   opts.WorkflowRefTTL,
		attemptRetention: opts.AttemptRetention,
	}, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

// Load fetches and decodes the conversation document.
func (s *RedisStore) Load(ctx context.Context, id string) (*core.Conversation, error) {
	raw, err := s.client.Get(ctx, convKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, &core.StoreUnavailableError{Op: "load", Err: err}
	}
	var conv core.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("redis: decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Save runs the server-side compare-version-and-set.
func (s *RedisStore) Save(ctx context.Context, conv *core.Conversation, expectedVersion int64) error {
	next := expectedVersion + 1
	conv.Flow.Version = next
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("redis: encode conversation %s: %w", conv.ID, err)
	}
	keys := []string{convKeyPrefix + conv.ID, verKeyPrefix + conv.ID}
	args := []any{string(raw), strconv.FormatInt(expectedVersion, 10), s.conversationTTL.Milliseconds()}
	res, err := saveScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		conv.Flow.Version = expectedVersion
		return &core.StoreUnavailableError{Op: "save", Err: err}
	}
	if res == -1 {
		conv.Flow.Version = expectedVersion
		return core.ErrVersionConflict
	}
	return nil
}

// Delete removes the conversation document and its version counter.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, convKeyPrefix+id, verKeyPrefix+id).Err(); err != nil {
		return &core.StoreUnavailableError{Op: "delete", Err: err}
	}
	return nil
}

// SaveWorkflowRef stores the reference under both the workflow id and the
// idempotency key, each with the workflow-ref TTL.
func (s *RedisStore) SaveWorkflowRef(ctx context.Context, ref *core.WorkflowInstance) error {
	raw, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("redis: encode workflow ref %s: %w", ref.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, wfIDKeyPrefix+ref.ID, raw, s.workflowRefTTL)
	if ref.IdempotencyKey != "" {
		pipe.Set(ctx, wfKeyKeyPrefix+ref.IdempotencyKey, raw, s.workflowRefTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &core.StoreUnavailableError{Op: "save_workflow_ref", Err: err}
	}
	return nil
}

// WorkflowRefByKey returns the instance stored under the idempotency key.
func (s *RedisStore) WorkflowRefByKey(ctx context.Context, key string) (*core.WorkflowInstance, error) {
	return s.workflowRef(ctx, wfKeyKeyPrefix+key)
}

// WorkflowRef returns the instance by workflow id.
func (s *RedisStore) WorkflowRef(ctx context.Context, workflowID string) (*core.WorkflowInstance, error) {
	return s.workflowRef(ctx, wfIDKeyPrefix+workflowID)
}

func (s *RedisStore) workflowRef(ctx context.Context, key string) (*core.WorkflowInstance, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, &core.StoreUnavailableError{Op: "workflow_ref", Err: err}
	}
	var ref core.WorkflowInstance
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return nil, fmt.Errorf("redis: decode workflow ref: %w", err)
	}
	return &ref, nil
}

// AppendRecoveryAttempt appends to the timestamp-scored sorted set and
// refreshes its retention expiry.
func (s *RedisStore) AppendRecoveryAttempt(ctx context.Context, attempt core.RecoveryAttempt) error {
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("redis: encode recovery attempt: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, attemptsZSetKey, redis.Z{
		Score:  float64(attempt.Timestamp.UnixNano()),
		Member: string(raw),
	})
	pipe.Expire(ctx, attemptsZSetKey, s.attemptRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return &core.StoreUnavailableError{Op: "append_recovery_attempt", Err: err}
	}
	return nil
}

// RecoveryAttempts returns attempts at or after since, oldest first.
func (s *RedisStore) RecoveryAttempts(ctx context.Context, since time.Time) ([]core.RecoveryAttempt, error) {
	min := "-inf"
	if !since.IsZero() {
		min = strconv.FormatInt(since.UnixNano(), 10)
	}
	members, err := s.client.ZRangeByScore(ctx, attemptsZSetKey, &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
	if err != nil {
		return nil, &core.StoreUnavailableError{Op: "recovery_attempts", Err: err}
	}
	attempts := make([]core.RecoveryAttempt, 0, len(members))
	for _, m := range members {
		var a core.RecoveryAttempt
		if err := json.Unmarshal([]byte(m), &a); err != nil {
			continue // skip malformed legacy entries
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// PruneRecoveryAttempts drops attempts recorded before cutoff.
func (s *RedisStore) PruneRecoveryAttempts(ctx context.Context, cutoff time.Time) error {
	max := strconv.FormatInt(cutoff.UnixNano()-1, 10)
	if err := s.client.ZRemRangeByScore(ctx, attemptsZSetKey, "-inf", max).Err(); err != nil {
		return &core.StoreUnavailableError{Op: "prune_recovery_attempts", Err: err}
	}
	return nil
}
