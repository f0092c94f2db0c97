package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// DeliveryPending 表示通知已写入 outbox，等待投递。
	DeliveryPending = "pending"
	// DeliverySent 表示邮件服务商已接收。
	DeliverySent = "sent"
	// DeliveryFailed 表示发送失败（等待重投或已放弃）。
	DeliveryFailed = "failed"
)

// DeliveryState 对应 Redis 内的通知投递状态结构。
type DeliveryState struct {
	NotificationID string
	Status         string
	Kind           string
	Reason         string
}

// GetDeliveryState 查询通知当前投递状态。found=false 表示 key 不存在或已过期。
func GetDeliveryState(ctx context.Context, rdb *rd.Client, notificationID string) (DeliveryState, bool, error) {
	m, err := rdb.HGetAll(ctx, DeliveryStateKey(notificationID)).Result()
	if err != nil {
		return DeliveryState{}, false, err
	}
	if len(m) == 0 {
		return DeliveryState{}, false, nil
	}
	out := DeliveryState{
		NotificationID: notificationID,
		Status:         m["status"],
		Kind:           m["kind"],
		Reason:         m["reason"],
	}
	if out.Status == "" {
		out.Status = DeliveryPending
	}
	return out, true, nil
}

// PutDeliveryState 更新投递状态，并刷新 key TTL。
func PutDeliveryState(ctx context.Context, rdb *rd.Client, notificationID, kind, status, reason string, ttl time.Duration) error {
	key := DeliveryStateKey(notificationID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"notification_id", notificationID,
		"kind", kind,
		"status", status,
		"reason", reason,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
