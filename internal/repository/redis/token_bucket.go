package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/mkalens/pipehub-identity/internal/core/port"
)

const defaultBucketPrefix = "ratelimit"

// tokenBucketScript performs the whole read-refill-consume cycle server-side so
// concurrent consumers of one key are strictly serialized. Refill is lazy: a
// bucket idle past several intervals recovers up to max on next access. The key
// expires once the bucket would be full again, so idle buckets cost nothing.
var tokenBucketScript = red.NewScript(`
local key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_ms = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local fields = redis.call('HMGET', key, 'count', 'refilled_at')
local count = tonumber(fields[1])
local refilled_at = tonumber(fields[2])

if count == nil or refilled_at == nil then
  count = max_tokens - cost
  redis.call('HSET', key, 'count', count, 'refilled_at', now)
  redis.call('PEXPIRE', key, cost * refill_ms)
  return {1, count, 0}
end

local elapsed = math.floor((now - refilled_at) / refill_ms)
if elapsed > 0 then
  count = math.min(count + elapsed, max_tokens)
  refilled_at = refilled_at + elapsed * refill_ms
end

if count < cost then
  redis.call('HSET', key, 'count', count, 'refilled_at', refilled_at)
  redis.call('PEXPIRE', key, (max_tokens - count) * refill_ms)
  local deficit = cost - count
  local retry = deficit * refill_ms - (now - refilled_at)
  if retry < 0 then
    retry = 0
  end
  return {0, count, retry}
end

count = count - cost
redis.call('HSET', key, 'count', count, 'refilled_at', refilled_at)
redis.call('PEXPIRE', key, (max_tokens - count) * refill_ms)
return {1, count, 0}
`)

// TokenBucketRepository consumes from per-key token buckets held in Redis hashes.
type TokenBucketRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewTokenBucketRepository constructs a Redis-backed token bucket store.
func NewTokenBucketRepository(client *red.Client, keyPrefix string) *TokenBucketRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultBucketPrefix
	}
	return &TokenBucketRepository{client: client, prefix: prefix, now: time.Now}
}

// WithClock overrides the internal clock for deterministic tests.
func (r *TokenBucketRepository) WithClock(now func() time.Time) *TokenBucketRepository {
	if now != nil {
		r.now = now
	}
	return r
}

// Take atomically consumes cost tokens from the bucket identified by key.
func (r *TokenBucketRepository) Take(ctx context.Context, key string, cost, maxTokens int, refillInterval time.Duration) (port.BucketDecision, error) {
	if strings.TrimSpace(key) == "" {
		return port.BucketDecision{}, fmt.Errorf("bucket key is required")
	}
	if cost <= 0 || maxTokens <= 0 || refillInterval <= 0 {
		return port.BucketDecision{}, fmt.Errorf("cost, max tokens and refill interval must be positive")
	}

	fullKey := fmt.Sprintf("%s:%s", r.prefix, key)
	nowMillis := r.now().UnixMilli()

	raw, err := tokenBucketScript.Run(ctx, r.client,
		[]string{fullKey},
		maxTokens,
		refillInterval.Milliseconds(),
		cost,
		nowMillis,
	).Result()
	if err != nil {
		return port.BucketDecision{}, fmt.Errorf("redis token bucket script: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return port.BucketDecision{}, fmt.Errorf("unexpected token bucket reply %T", raw)
	}

	allowed, err := replyInt(reply[0])
	if err != nil {
		return port.BucketDecision{}, err
	}
	remaining, err := replyInt(reply[1])
	if err != nil {
		return port.BucketDecision{}, err
	}
	retryMillis, err := replyInt(reply[2])
	if err != nil {
		return port.BucketDecision{}, err
	}

	return port.BucketDecision{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		RetryAfter: time.Duration(retryMillis) * time.Millisecond,
	}, nil
}

func replyInt(value interface{}) (int64, error) {
	n, ok := value.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected token bucket reply element %T", value)
	}
	return n, nil
}

var _ port.TokenBucketStore = (*TokenBucketRepository)(nil)
