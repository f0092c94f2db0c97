package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"prize_wheel/internal/events"
	rediskey "prize_wheel/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	invalidateTimeout = 2 * time.Second
	invalidateBuffer  = 64
)

// invalidation 是一次待执行的失效：删除 keys，或按 pattern 扫描删除。
type invalidation struct {
	keys    []string
	pattern string
}

// Cache 是展示层缓存：只影响展示新鲜度，不参与抽奖事务的正确性。
// rdb 为 nil 时所有读取直接回源。
// 事件触发的失效由后台 worker 执行，发布方（抽奖请求）不等待 Redis。
type Cache struct {
	rdb  *rd.Client
	jobs chan invalidation

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(rdb *rd.Client) *Cache {
	return &Cache{rdb: rdb, jobs: make(chan invalidation, invalidateBuffer)}
}

// Start launches the invalidation worker. Close drains it.
func (c *Cache) Start() {
	if !c.Enabled() {
		return
	}
	c.wg.Add(1)
	go c.work()
}

// Close stops accepting invalidations and waits for queued ones.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.jobs)
	c.mu.Unlock()
	c.wg.Wait()
}

// enqueue 不阻塞；队列满时丢弃，缓存按 TTL 自然过期。
func (c *Cache) enqueue(job invalidation) bool {
	if !c.Enabled() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.jobs <- job:
		return true
	default:
		zap.S().Warnw("cache invalidation queue full, dropping", "keys", job.keys, "pattern", job.pattern)
		return false
	}
}

func (c *Cache) work() {
	defer c.wg.Done()
	for job := range c.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		var err error
		if job.pattern != "" {
			err = c.InvalidatePattern(ctx, job.pattern)
		} else {
			err = c.Invalidate(ctx, job.keys...)
		}
		cancel()
		if err != nil {
			zap.S().Warnw("cache invalidation failed", "keys", job.keys, "pattern", job.pattern, "error", err)
		}
	}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool { return c != nil && c.rdb != nil }

// GetOrSet returns the cached JSON value under key, or calls fetch and stores
// its result for ttl. Cache errors are logged and fall through to fetch.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if !c.Enabled() {
		return fetch(ctx)
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		zap.S().Warnw("cache decode failed", "key", key, "error", err)
	} else if !errors.Is(err, rd.Nil) {
		zap.S().Warnw("cache read failed", "key", key, "error", err)
	}

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		zap.S().Warnw("cache write failed", "key", key, "error", err)
	}
	return v, nil
}

// Invalidate deletes keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// InvalidatePattern 按模式删除（SCAN + DEL），用于不同条数的最近中奖列表。
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) error {
	if !c.Enabled() {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return c.Invalidate(ctx, keys...)
}

// Subscribe 订阅提交后事件，把对应缓存的失效交给 worker。handler 立即返回。
func (c *Cache) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.PrizeInventoryChanged, func(events.Event) error {
		c.enqueue(invalidation{keys: []string{rediskey.WheelPrizesKey()}})
		return nil
	})
	bus.Subscribe(events.WinnerListChanged, func(events.Event) error {
		c.enqueue(invalidation{pattern: rediskey.RecentWinnersPattern()})
		return nil
	})
}
