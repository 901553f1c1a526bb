package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Lua scripts for atomic circuit breaker operations. The sliding window
// is a counter with a TTL equal to the window: the first failure arms the
// TTL, expiry closes the breaker for free.

// recordFailureScript counts one failure inside the window.
// Keys: [failures_key]
// Args: [failure_threshold, window_seconds]
// Returns: resulting state as string
var recordFailureScript = redis.NewScript(`
local failures = redis.call('INCR', KEYS[1])

if failures == 1 then
    redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
end

if failures >= tonumber(ARGV[1]) then
    return 'open'
end
return 'closed'
`)

// allowScript checks the failure count against the threshold.
// Keys: [failures_key]
// Args: [failure_threshold]
// Returns: current state as string
var allowScript = redis.NewScript(`
local failures = tonumber(redis.call('GET', KEYS[1]) or '0')

if failures >= tonumber(ARGV[1]) then
    return 'open'
end
return 'closed'
`)

// RedisCircuitBreaker implements a distributed sliding-window circuit
// breaker. Counters are shared across worker instances, so a provider
// tripped by one instance is skipped by all of them.
type RedisCircuitBreaker struct {
	client     *redis.Client
	providerID string
	config     Config
	keyPrefix  string
}

// NewRedis creates a new Redis-backed circuit breaker.
func NewRedis(redisURL string, providerID string, cfg Config) (*RedisCircuitBreaker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisWithClient(client, providerID, cfg), nil
}

// NewRedisWithClient creates a new Redis-backed circuit breaker with an
// existing client. Useful for sharing a Redis connection pool across
// multiple circuit breakers.
func NewRedisWithClient(client *redis.Client, providerID string, cfg Config) *RedisCircuitBreaker {
	return &RedisCircuitBreaker{
		client:     client,
		providerID: providerID,
		config:     cfg,
		keyPrefix:  fmt.Sprintf("cb:%s:", providerID),
	}
}

func (cb *RedisCircuitBreaker) failuresKey() string {
	return cb.keyPrefix + "failures"
}

// Allow checks if a call to the provider is permitted.
func (cb *RedisCircuitBreaker) Allow(ctx context.Context) error {
	keys := []string{cb.failuresKey()}
	args := []interface{}{cb.config.FailureThreshold}

	result, err := allowScript.Run(ctx, cb.client, keys, args...).Text()
	if err != nil {
		// On Redis error, fail open (allow the call)
		return nil
	}

	if result == "open" {
		return domain.ErrCircuitBreakerOpen
	}

	return nil
}

// RecordSuccess resets the failure window, closing the breaker
// immediately across all instances.
func (cb *RedisCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.client.Del(ctx, cb.failuresKey())
}

// RecordFailure counts one failure in the sliding window. The first
// failure arms the window TTL, so the counter disappears when the window
// expires.
func (cb *RedisCircuitBreaker) RecordFailure(ctx context.Context) {
	keys := []string{cb.failuresKey()}
	args := []interface{}{
		cb.config.FailureThreshold,
		int(cb.config.Window.Seconds()),
	}

	recordFailureScript.Run(ctx, cb.client, keys, args...)
}

// State returns the current state of the circuit breaker.
func (cb *RedisCircuitBreaker) State(ctx context.Context) State {
	if cb.failures(ctx) >= cb.config.FailureThreshold {
		return StateOpen
	}
	return StateClosed
}

// Failures returns the current failure count within the window.
func (cb *RedisCircuitBreaker) Failures(ctx context.Context) int {
	return cb.failures(ctx)
}

func (cb *RedisCircuitBreaker) failures(ctx context.Context) int {
	result, err := cb.client.Get(ctx, cb.failuresKey()).Result()
	if err != nil {
		return 0
	}

	failures, _ := strconv.Atoi(result)
	return failures
}

// Reset clears the breaker. Useful for manual intervention or testing.
func (cb *RedisCircuitBreaker) Reset(ctx context.Context) error {
	return cb.client.Del(ctx, cb.failuresKey()).Err()
}

// Close closes the Redis client connection.
func (cb *RedisCircuitBreaker) Close() error {
	return cb.client.Close()
}
