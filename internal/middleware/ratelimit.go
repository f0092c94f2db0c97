package middleware

import (
	"fmt"
	"net/http"
	"time"

	"prize_wheel/internal/ratelimit"
	rediskey "prize_wheel/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AttemptGuard 包装失败尝试限流器。存储不可用时放行（fail open）并记日志。
type AttemptGuard struct {
	limiter ratelimit.Limiter
}

func NewAttemptGuard(l ratelimit.Limiter) *AttemptGuard {
	return &AttemptGuard{limiter: l}
}

// Check 在处理前拒绝已超限的客户端，limited 生成各接口自己的 429 响应体。
func (g *AttemptGuard) Check(limited func() any) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := ClientIdentifier(c)
		blocked, err := g.limiter.IsLimited(c.Request.Context(), id)
		if err != nil {
			zap.S().Errorw("rate limiter unavailable, failing open", "client", id, "error", err)
			c.Next()
			return
		}
		if blocked {
			zap.S().Warnw("client rate limited", "kind", ratelimit.KindRateLimited, "client", id)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, limited())
			return
		}
		c.Next()
	}
}

// Failure 记录一次失败尝试。
func (g *AttemptGuard) Failure(c *gin.Context) {
	id := ClientIdentifier(c)
	if err := g.limiter.RecordFailure(c.Request.Context(), id); err != nil {
		zap.S().Errorw("rate limiter record failure failed", "client", id, "error", err)
	}
}

// Success 成功后清零计数。
func (g *AttemptGuard) Success(c *gin.Context) {
	id := ClientIdentifier(c)
	if err := g.limiter.Reset(c.Request.Context(), id); err != nil {
		zap.S().Errorw("rate limiter reset failed", "client", id, "error", err)
	}
}

// luaSlidingWindow：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间戳(ms)，ARGV[2]=窗口开始时间戳(ms)，ARGV[3]=窗口毫秒数，
// ARGV[4]=成员，ARGV[5]=上限
// 返回：当前窗口内的请求数，超限返回 -1
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, windowMs)
  return count + 1
else
  return -1
end
`

// RedisThrottle 按客户端标识做请求级滑动窗口限流（用于管理员登录防爆破）。
// rdb 为 nil 或 Redis 出错时放行。
func RedisThrottle(rdb *rd.Client, route string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}
		id := ClientIdentifier(c)
		now := time.Now()
		nowMs := now.UnixMilli()
		member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaSlidingWindow, []string{rediskey.RequestThrottleKey(route, id)},
			nowMs, nowMs-window.Milliseconds(), window.Milliseconds(), member, limit).Int()
		if err != nil {
			zap.S().Warnw("throttle unavailable, failing open", "route", route, "error", err)
			c.Next()
			return
		}
		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "Too many requests. Please try again later.",
			})
			return
		}
		c.Next()
	}
}
