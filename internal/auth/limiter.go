package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTooManyAttempts is returned once a subject exhausted its login attempts.
var ErrTooManyAttempts = errors.New("too many login attempts")

// Limiter throttles login attempts per subject.
type Limiter interface {
	// Allow consumes one attempt for subject in scope. It returns
	// ErrTooManyAttempts with the seconds until the window resets once
	// the limit is exceeded.
	Allow(ctx context.Context, scope, subject string) (retryAfter int, err error)
}

// NopLimiter never throttles.
type NopLimiter struct{}

func (NopLimiter) Allow(context.Context, string, string) (int, error) { return 0, nil }

var attemptScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter counts attempts in fixed windows shared across processes.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "smbbank:login"
	}
	return &RedisLimiter{client: client, prefix: trimmed, limit: limit, window: window}
}

func (r *RedisLimiter) Allow(ctx context.Context, scope, subject string) (int, error) {
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 {
		return 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := attemptScript.Run(ctx, r.client, []string{r.key(scope, subject)}, windowMs).Result()
	if err != nil {
		return 0, err
	}
	count, ttlMs, err := parseAttemptResult(raw, windowMs)
	if err != nil {
		return 0, err
	}
	if count > int64(r.limit) {
		return retryAfterSeconds(ttlMs), ErrTooManyAttempts
	}
	return 0, nil
}

func (r *RedisLimiter) key(scope, subject string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
}

func parseAttemptResult(raw any, windowMs int64) (count int64, ttlMs int64, err error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok = values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok = values[1].(int64)
	if !ok {
		return count, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	return count, ttlMs, nil
}

func retryAfterSeconds(ttlMs int64) int {
	s := int(math.Ceil(float64(ttlMs) / 1000.0))
	if s < 1 {
		s = 1
	}
	return s
}
