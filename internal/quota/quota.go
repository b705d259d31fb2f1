// Package quota enforces per-user chat message limits.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/openaip/budget-chat/internal/cache"
	"github.com/openaip/budget-chat/internal/storage"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// Denial reasons.
const (
	ReasonOK             = "ok"
	ReasonMinuteExceeded = "minute_limit_exceeded"
	ReasonDayExceeded    = "day_limit_exceeded"
)

// Decision is the outcome of consuming one message of quota.
type Decision struct {
	Allowed bool
	Reason  string
}

// Limiter consumes quota for one chat message.
type Limiter interface {
	Consume(ctx context.Context, userID string) (Decision, error)
}

// Limits configures the windows.
type Limits struct {
	PerMinute int
	PerDay    int
	Route     string
}

// QuotaRPC is the slice of the RPC surface the SQL limiter needs.
type QuotaRPC interface {
	ConsumeChatQuota(ctx context.Context, userID string, perMinute, perDay int, route string) (*storage.QuotaDecision, error)
}

var (
	_ QuotaRPC = (*storage.RPCRepository)(nil)
	_ Limiter  = (*SQLLimiter)(nil)
	_ Limiter  = (*RedisLimiter)(nil)
	_ Limiter  = Noop{}
)

// SQLLimiter delegates to the consume_chat_quota function.
type SQLLimiter struct {
	rpc    QuotaRPC
	limits Limits
}

// NewSQLLimiter creates a SQLLimiter.
func NewSQLLimiter(rpc QuotaRPC, limits Limits) *SQLLimiter {
	return &SQLLimiter{rpc: rpc, limits: limits}
}

// Consume implements Limiter.
func (l *SQLLimiter) Consume(ctx context.Context, userID string) (Decision, error) {
	out, err := l.rpc.ConsumeChatQuota(ctx, userID, l.limits.PerMinute, l.limits.PerDay, l.limits.Route)
	if err != nil {
		return Decision{}, fmt.Errorf("consume quota: %w", err)
	}
	reason := out.Reason
	if reason == "" {
		reason = ReasonOK
	}
	return Decision{Allowed: out.Allowed, Reason: reason}, nil
}

// RedisLimiter counts messages in fixed minute and day windows.
type RedisLimiter struct {
	counter cache.Counter
	limits  Limits
}

// NewRedisLimiter creates a RedisLimiter over any window counter.
func NewRedisLimiter(counter cache.Counter, limits Limits) *RedisLimiter {
	return &RedisLimiter{counter: counter, limits: limits}
}

// Consume implements Limiter. The minute window is checked first and a denied
// message gives its slots back, so only accepted messages count.
func (l *RedisLimiter) Consume(ctx context.Context, userID string) (Decision, error) {
	minuteKey := cache.QuotaKey(userID, l.limits.Route, "minute")
	dayKey := cache.QuotaKey(userID, l.limits.Route, "day")

	minute, err := l.counter.IncrWindow(ctx, minuteKey, minuteWindow)
	if err != nil {
		return Decision{}, fmt.Errorf("consume minute quota: %w", err)
	}
	if l.limits.PerMinute > 0 && minute > int64(l.limits.PerMinute) {
		if err := l.counter.ReleaseWindow(ctx, minuteKey); err != nil {
			return Decision{}, fmt.Errorf("release minute quota: %w", err)
		}
		return Decision{Allowed: false, Reason: ReasonMinuteExceeded}, nil
	}

	day, err := l.counter.IncrWindow(ctx, dayKey, dayWindow)
	if err != nil {
		return Decision{}, fmt.Errorf("consume day quota: %w", err)
	}
	if l.limits.PerDay > 0 && day > int64(l.limits.PerDay) {
		if err := l.counter.ReleaseWindow(ctx, dayKey); err != nil {
			return Decision{}, fmt.Errorf("release day quota: %w", err)
		}
		if err := l.counter.ReleaseWindow(ctx, minuteKey); err != nil {
			return Decision{}, fmt.Errorf("release minute quota: %w", err)
		}
		return Decision{Allowed: false, Reason: ReasonDayExceeded}, nil
	}

	return Decision{Allowed: true, Reason: ReasonOK}, nil
}

// Noop allows everything.
type Noop struct{}

// Consume implements Limiter.
func (Noop) Consume(context.Context, string) (Decision, error) {
	return Decision{Allowed: true, Reason: ReasonOK}, nil
}
