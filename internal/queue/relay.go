package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prize_wheel/internal/notify"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	relayBatch          = 16
	relayBlock          = 2 * time.Second
	relayPublishTimeout = 5 * time.Second
	relayReadBackoff    = 300 * time.Millisecond
	relayPublishBackoff = 200 * time.Millisecond
)

// Relay 把 outbox（Redis Stream）里的邮件通知搬运到 Kafka。
// 只有 Kafka 确认写入后才 ACK 并删除 outbox 条目；发布失败的通知留在本消费者的 pending 列表，下一轮优先重发。
type Relay struct {
	rdb      *rd.Client
	producer *Producer

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, producer *Producer, stream, group, consumer string) *Relay {
	return &Relay{
		rdb:      rdb,
		producer: producer,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		zap.S().Errorw("notification relay cannot create consumer group", "stream", r.stream, "group", r.group, "error", err)
		return
	}
	zap.S().Infow("notification relay started", "stream", r.stream, "consumer", r.consumer)

	for ctx.Err() == nil {
		batch, err := r.nextBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.S().Warnw("notification relay read failed", "stream", r.stream, "error", err)
			if !wait(ctx, relayReadBackoff) {
				return
			}
			continue
		}

		for _, xm := range batch {
			if err := r.forward(ctx, xm); err != nil {
				// 保持顺序：当前这条没发出去就不继续往后发
				zap.S().Warnw("notification relay publish failed, keeping in outbox", "stream_id", xm.ID, "error", err)
				if !wait(ctx, relayPublishBackoff) {
					return
				}
				break
			}
		}
	}
}

// nextBatch 优先取本消费者尚未 ACK 的通知（上次发布失败或进程重启遗留），没有再阻塞等待新通知。
func (r *Relay) nextBatch(ctx context.Context) ([]rd.XMessage, error) {
	pending, err := r.readGroup(ctx, "0", 0)
	if err != nil || len(pending) > 0 {
		return pending, err
	}
	return r.readGroup(ctx, ">", relayBlock)
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    relayBatch,
		Block:    block,
	}).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// forward 发布一条通知到 Kafka。无法解析的条目记日志后直接移出 outbox。
func (r *Relay) forward(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseStreamMessage(xm.Values)
	if err != nil {
		zap.S().Errorw("notification relay dropping malformed entry", "error_kind", notify.KindFailure, "stream_id", xm.ID, "error", err)
		if ackErr := r.remove(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("drop malformed entry: %v, ack: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()
	if err := r.producer.Publish(pubCtx, msg); err != nil {
		return fmt.Errorf("publish notification %s: %w", msg.ID, err)
	}
	zap.S().Debugw("notification relayed", "id", msg.ID, "kind", msg.Kind, "stream_id", xm.ID)
	return r.remove(ctx, xm.ID)
}

// remove ACK 并删除 outbox 条目，避免 stream 无限增长。
func (r *Relay) remove(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

// wait sleeps for d unless ctx ends first; it reports whether the caller should continue.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
