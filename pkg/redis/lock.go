package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值匹配 owner 时才删除，避免误删其他实例的锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local owner = ARGV[1]
if redis.call('GET', lockKey) == owner then
  return redis.call('DEL', lockKey)
end
return 0
`

// TryLock 尝试获取带 TTL 的互斥锁，owner 用于安全释放。
func TryLock(ctx context.Context, rdb *rd.Client, key, owner string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseLockIfMatch 安全释放锁。
func ReleaseLockIfMatch(ctx context.Context, rdb *rd.Client, key, owner string) error {
	_, err := rdb.Eval(ctx, luaReleaseIfMatch, []string{key}, owner).Int()
	return err
}
