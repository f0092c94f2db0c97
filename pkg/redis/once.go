package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaClaimOnce 通过 SETNX 保证同一个 key 只被认领一次。
const luaClaimOnce = `
local key = KEYS[1]
local ttlSec = tonumber(ARGV[1])

if redis.call('SETNX', key, '1') == 1 then
  redis.call('EXPIRE', key, ttlSec)
  return 1
end
return 0
`

// ClaimOnce 幂等认领：
// - 首次认领返回 true
// - 重复认领返回 false
func ClaimOnce(ctx context.Context, rdb *rd.Client, key string, ttl time.Duration) (bool, error) {
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	n, err := rdb.Eval(ctx, luaClaimOnce, []string{key}, ttlSeconds).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseClaim 删除认领标记，用于处理失败后允许重试。
func ReleaseClaim(ctx context.Context, rdb *rd.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}
