package redis

import "fmt"

// RateLimitKey 统一约定限流计数键名。
func RateLimitKey(identifier string) string {
	return fmt.Sprintf("prize_wheel:rate_limit:%s", identifier)
}

// WheelPrizesKey 转盘展示用奖品列表的缓存键。
func WheelPrizesKey() string {
	return "prize_wheel:cache:prizes:wheel"
}

// RecentWinnersKey 最近中奖列表的缓存键，按条数区分。
func RecentWinnersKey(limit int) string {
	return fmt.Sprintf("prize_wheel:cache:winners:recent:%d", limit)
}

// RecentWinnersPattern 匹配所有条数的最近中奖缓存键。
func RecentWinnersPattern() string {
	return "prize_wheel:cache:winners:recent:*"
}

// NotificationSentKey 标记某条通知是否已经发出过（Kafka 至少一次投递下去重）。
func NotificationSentKey(notificationID string) string {
	return fmt.Sprintf("prize_wheel:notify:sent:%s", notificationID)
}

// DeliveryStateKey 通知投递状态（hash）。
func DeliveryStateKey(notificationID string) string {
	return fmt.Sprintf("prize_wheel:notify:state:%s", notificationID)
}

// SweepLockKey 限流记录清理任务的互斥锁，多实例部署时只有一个实例执行。
func SweepLockKey() string {
	return "prize_wheel:lock:rate_limit_sweep"
}

// RequestThrottleKey 按路由与客户端标识的滑动窗口请求限流键。
func RequestThrottleKey(route, identifier string) string {
	return fmt.Sprintf("prize_wheel:throttle:%s:%s", route, identifier)
}
