package queue

import (
	"context"
	"fmt"
	"time"

	"prize_wheel/internal/notify"
	rediskey "prize_wheel/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultStreamMaxLen = 10000
	deliveryStateTTL    = 7 * 24 * time.Hour
)

// Outbox 是写入 Redis Stream 的 notify.Sender。
// 写入成功即返回，由 Relay 异步转发到 Kafka。
type Outbox struct {
	rdb    *rd.Client
	stream string
}

func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream}
}

func (o *Outbox) Send(ctx context.Context, msg notify.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	if err := o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		MaxLen: defaultStreamMaxLen,
		Approx: true,
		Values: streamValues(msg),
	}).Err(); err != nil {
		return fmt.Errorf("outbox xadd: %w", err)
	}
	if err := rediskey.PutDeliveryState(ctx, o.rdb, msg.ID, string(msg.Kind), rediskey.DeliveryPending, "", deliveryStateTTL); err != nil {
		zap.S().Warnw("outbox state write failed", "id", msg.ID, "error", err)
	}
	return nil
}
