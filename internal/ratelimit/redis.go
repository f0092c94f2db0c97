package ratelimit

import (
	"context"
	"errors"

	rediskey "prize_wheel/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// luaRecordFailure：原子「INCR + 刷新过期」。
// key 的 TTL 等于窗口，每次失败都从最后一次失败重新计时，
// 因此窗口过后 key 自然消失，下一次失败从 1 开始计数。
// KEYS[1]=计数key，ARGV[1]=窗口毫秒数；返回自增后的次数。
const luaRecordFailure = `
local key = KEYS[1]
local windowMs = tonumber(ARGV[1])
local n = redis.call('INCR', key)
redis.call('PEXPIRE', key, windowMs)
return n
`

// RedisLimiter stores one counter per identifier in Redis with a TTL equal to the window.
type RedisLimiter struct {
	rdb    *rd.Client
	policy Policy
}

func NewRedisLimiter(rdb *rd.Client, policy Policy) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, policy: policy.withDefaults()}
}

func (l *RedisLimiter) IsLimited(ctx context.Context, id string) (bool, error) {
	n, err := l.rdb.Get(ctx, rediskey.RateLimitKey(id)).Int()
	if errors.Is(err, rd.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= l.policy.MaxAttempts, nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, id string) error {
	return l.rdb.Eval(ctx, luaRecordFailure, []string{rediskey.RateLimitKey(id)}, l.policy.Window.Milliseconds()).Err()
}

func (l *RedisLimiter) Reset(ctx context.Context, id string) error {
	return l.rdb.Del(ctx, rediskey.RateLimitKey(id)).Err()
}
