package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"prize_wheel/internal/notify"
	rediskey "prize_wheel/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	sendAttempts = 3
	claimTTL     = 24 * time.Hour
)

// Consumer 从 Kafka 读取通知并交给 Sender 发送。
// Kafka 是至少一次投递，用 Redis 认领标记去重；rdb 为 nil 时不去重。
type Consumer struct {
	r      *kafka.Reader
	rdb    *rd.Client
	sender notify.Sender
}

func NewConsumer(brokers []string, topic, groupID string, rdb *rd.Client, sender notify.Sender) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
		}),
		rdb:    rdb,
		sender: sender,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		var msg notify.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			zap.S().Errorw("consumer unmarshal failed", "offset", m.Offset, "error", err)
		} else if err := msg.Validate(); err != nil {
			zap.S().Errorw("consumer dropping invalid message", "offset", m.Offset, "error", err)
		} else {
			c.handle(ctx, msg)
		}

		if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			zap.S().Warnw("consumer commit failed", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg notify.Message) {
	if c.rdb != nil {
		claimed, err := rediskey.ClaimOnce(ctx, c.rdb, rediskey.NotificationSentKey(msg.ID), claimTTL)
		if err != nil {
			zap.S().Warnw("consumer claim failed, sending anyway", "id", msg.ID, "error", err)
		} else if !claimed {
			// 重复投递
			return
		}
	}

	err := c.sendWithRetry(ctx, msg)
	if err == nil {
		c.putState(ctx, msg, rediskey.DeliverySent, "")
		return
	}
	zap.S().Errorw("email send failed", "error_kind", notify.KindFailure, "kind", msg.Kind, "to", msg.To, "id", msg.ID, "error", err)
	c.putState(ctx, msg, rediskey.DeliveryFailed, err.Error())
	if c.rdb != nil {
		if relErr := rediskey.ReleaseClaim(ctx, c.rdb, rediskey.NotificationSentKey(msg.ID)); relErr != nil {
			zap.S().Warnw("consumer release claim failed", "id", msg.ID, "error", relErr)
		}
	}
}

func (c *Consumer) sendWithRetry(ctx context.Context, msg notify.Message) error {
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = c.sender.Send(sendCtx, msg)
		cancel()
		if err == nil || attempt == sendAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (c *Consumer) putState(ctx context.Context, msg notify.Message, status, reason string) {
	if c.rdb == nil {
		return
	}
	if err := rediskey.PutDeliveryState(ctx, c.rdb, msg.ID, string(msg.Kind), status, reason, deliveryStateTTL); err != nil {
		zap.S().Warnw("delivery state write failed", "id", msg.ID, "error", err)
	}
}
