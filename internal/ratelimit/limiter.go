package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Class identifies an endpoint class with its own budget. Two-factor
// verification gets the strictest budget since each attempt is a guess at a
// six-digit code.
type Class string

const (
	ClassLogin     Class = "login"
	ClassRefresh   Class = "refresh"
	ClassTwoFactor Class = "twofactor"
	ClassRegister  Class = "register"
	ClassReset     Class = "reset"
)

// Budget is the allowance for one class: at most Max requests per Window,
// measured per key (client address or account identifier).
type Budget struct {
	Max    int64
	Window time.Duration
}

// DefaultBudgets returns the per-class budgets used in production.
func DefaultBudgets() map[Class]Budget {
	return map[Class]Budget{
		ClassLogin:     {Max: 10, Window: time.Minute},
		ClassRefresh:   {Max: 30, Window: time.Minute},
		ClassTwoFactor: {Max: 5, Window: time.Minute},
		ClassRegister:  {Max: 5, Window: time.Minute},
		ClassReset:     {Max: 5, Window: time.Minute},
	}
}

// Result is the outcome of a limiter check.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter answers whether a request under a (class, key) pair may proceed.
type Limiter interface {
	Check(ctx context.Context, class Class, key string) (Result, error)
}

// RedisLimiter implements a sliding window over two adjacent fixed windows.
// The previous window's count is weighted by how much of it still overlaps
// the sliding window, which smooths the burst-at-boundary artifact of plain
// fixed windows. Counters are atomic INCRs with TTL eviction, so multiple
// service instances share one view.
type RedisLimiter struct {
	client  *redis.Client
	prefix  string
	budgets map[Class]Budget
}

// NewRedisLimiter creates a limiter with the given per-class budgets.
func NewRedisLimiter(client *redis.Client, budgets map[Class]Budget) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		prefix:  "auth:rl:",
		budgets: budgets,
	}
}

// Check records a hit against (class, key) and reports whether it fits the
// budget. Unknown classes are allowed: a misconfigured class must not turn
// into a full outage.
func (l *RedisLimiter) Check(ctx context.Context, class Class, key string) (Result, error) {
	budget, ok := l.budgets[class]
	if !ok {
		return Result{Allowed: true}, nil
	}

	now := time.Now().UTC()
	window := budget.Window
	curStart := now.Truncate(window)
	prevStart := curStart.Add(-window)

	base := l.prefix + string(class) + ":" + sanitizeKey(key) + ":"
	curKey := base + fmt.Sprint(curStart.Unix())
	prevKey := base + fmt.Sprint(prevStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, curKey)
	// Keep the counter around for two windows so it can serve as the
	// "previous" window of the next one.
	pipe.Expire(ctx, curKey, 2*window)
	prev := pipe.Get(ctx, prevKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	curCount := incr.Val()
	prevCount, _ := prev.Int64()

	// Weight the previous window by its remaining overlap with the sliding
	// window ending now.
	elapsed := now.Sub(curStart)
	weight := 1 - float64(elapsed)/float64(window)
	effective := curCount + int64(weight*float64(prevCount))

	if effective <= budget.Max {
		return Result{Allowed: true, Remaining: budget.Max - effective}, nil
	}

	retryAfter := window - elapsed
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return Result{Allowed: false, RetryAfter: retryAfter}, nil
}

// sanitizeKey normalizes a client-supplied key into a safe redis key segment.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' {
			return '_'
		}
		return r
	}, key)
}
