package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisKey holds the shared counter.
const DefaultRedisKey = "threatpulse:quota"

// acquireScript increments the counter only while it is under the limit and
// starts the window on the first request. Returns {allowed, used, pttl}.
var acquireScript = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if current >= tonumber(ARGV[1]) then
		return {0, current, redis.call('PTTL', KEYS[1])}
	end
	current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return {1, current, redis.call('PTTL', KEYS[1])}
`)

// RedisTracker shares the budget across replicas. Redis errors fail open.
type RedisTracker struct {
	redis  redis.UniversalClient
	logger *zap.Logger
	config Config
	key    string
	now    func() time.Time
}

// NewRedisTracker creates a redis-backed tracker.
func NewRedisTracker(client redis.UniversalClient, cfg Config, logger *zap.Logger) *RedisTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTracker{
		redis:  client,
		logger: logger,
		config: cfg.withDefaults(),
		key:    DefaultRedisKey,
		now:    time.Now,
	}
}

// Acquire consumes one request.
func (t *RedisTracker) Acquire(ctx context.Context) (Status, error) {
	now := t.now()
	vals, err := acquireScript.Run(ctx, t.redis, []string{t.key}, t.config.Limit, t.config.Window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 3 {
		t.logger.Warn("Quota check failed, allowing request", zap.Error(err))
		return newStatus(0, t.config.Limit, now.Add(t.config.Window)), nil
	}

	status := newStatus(int(vals[1]), t.config.Limit, t.resetAt(now, vals[2]))
	if vals[0] == 0 {
		return status, ErrQuotaExceeded
	}
	return status, nil
}

// Status reports the budget without consuming.
func (t *RedisTracker) Status(ctx context.Context) (Status, error) {
	now := t.now()

	used, err := t.redis.Get(ctx, t.key).Int()
	if errors.Is(err, redis.Nil) {
		return newStatus(0, t.config.Limit, now.Add(t.config.Window)), nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read quota: %w", err)
	}

	pttl, err := t.redis.PTTL(ctx, t.key).Result()
	if err != nil {
		return Status{}, fmt.Errorf("read quota ttl: %w", err)
	}
	return newStatus(used, t.config.Limit, t.resetAt(now, pttl.Milliseconds())), nil
}

func (t *RedisTracker) resetAt(now time.Time, pttlMillis int64) time.Time {
	if pttlMillis <= 0 {
		return now.Add(t.config.Window)
	}
	return now.Add(time.Duration(pttlMillis) * time.Millisecond)
}
